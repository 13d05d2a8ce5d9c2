package postprocess

// Package postprocess moves downloaded Workshop payloads out of SteamCMD's
// scratch hierarchy into the configured mods directory and removes the
// temporary layout once a batch fully relocates.
