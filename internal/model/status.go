package model

// ItemStatus represents the lifecycle state of a queued Workshop item
type ItemStatus string

const (
	// StatusQueued means the item is waiting in the download queue
	StatusQueued ItemStatus = "Queued"

	// StatusFetching means SteamCMD is currently downloading the item
	StatusFetching ItemStatus = "Fetching"

	// StatusProcessing means the downloaded payload is being relocated
	StatusProcessing ItemStatus = "Processing"

	// StatusCompleted means the item was downloaded and relocated successfully
	StatusCompleted ItemStatus = "Completed"

	// StatusFailed means the item ended with an error
	StatusFailed ItemStatus = "Failed"
)

// String returns the string representation of ItemStatus
func (s ItemStatus) String() string {
	return string(s)
}

// IsActive returns true if the item is part of an in-flight batch
func (s ItemStatus) IsActive() bool {
	return s == StatusFetching || s == StatusProcessing
}

// IsTerminal returns true if the item reached a final state
func (s ItemStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
