package model

// Package model defines the core data types shared across the download
// pipeline: queue items, their lifecycle statuses, history records and the
// status events consumed by presentation layers.
