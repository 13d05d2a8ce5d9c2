package model

import "time"

// Item is a single fetchable Workshop unit tracked by the queue store.
// The ID is the published file id assigned by the Workshop; the title may be
// unknown until metadata is fetched.
type Item struct {
	ID           string `gorm:"primaryKey"`
	Title        string
	SourceURL    string
	Status       ItemStatus `gorm:"index"`
	Dependencies []string   `gorm:"serializer:json"`
	LastError    string

	// Seq is the FIFO position within the queue, assigned on enqueue.
	Seq int64 `gorm:"index"`

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// HistoryRecord is an append-only record of a terminal item outcome. It is
// kept separate from the live queue so re-downloads never rewrite the audit
// trail.
type HistoryRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ItemID     string `gorm:"index"`
	Title      string
	Status     ItemStatus
	Error      string
	Folders    []string `gorm:"serializer:json"`
	FinishedAt time.Time
}

// StatusEvent is emitted by the orchestrator for presentation layers
// (progress dialogs, CLI output).
type StatusEvent struct {
	ItemID  string
	Status  ItemStatus
	Message string
}
