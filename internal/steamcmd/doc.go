package steamcmd

// Package steamcmd drives the external SteamCMD binary: it builds the
// batched workshop_download_item invocation, streams the process output
// line by line, and classifies each line into structured events for the
// orchestrator.
