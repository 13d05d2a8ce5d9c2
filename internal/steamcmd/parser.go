package steamcmd

import (
	"regexp"
	"strings"
)

// EventKind classifies a single line of SteamCMD output.
type EventKind int

const (
	// EventUnrecognized is any line outside the known vocabulary. It is
	// forwarded as a diagnostic, never dropped and never fatal.
	EventUnrecognized EventKind = iota

	// EventLoginOK means SteamCMD logged in to Steam.
	EventLoginOK

	// EventLoginFailed means login was rejected; the whole batch aborts.
	EventLoginFailed

	// EventItemStart means SteamCMD began downloading an item.
	EventItemStart

	// EventItemSuccess means an item finished downloading.
	EventItemSuccess

	// EventItemFailed means an item download failed.
	EventItemFailed

	// EventRateLimited means an item was rejected by Steam rate limiting
	// and should be retried on a future run.
	EventRateLimited
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventLoginOK:
		return "LoginOK"
	case EventLoginFailed:
		return "LoginFailed"
	case EventItemStart:
		return "ItemStart"
	case EventItemSuccess:
		return "ItemSuccess"
	case EventItemFailed:
		return "ItemFailed"
	case EventRateLimited:
		return "RateLimited"
	default:
		return "Unrecognized"
	}
}

// Event is one classified line of SteamCMD output.
type Event struct {
	Kind   EventKind
	ItemID string // set for item events
	Reason string // failure reason, when SteamCMD reports one
	Raw    string
}

// SteamCMD output vocabulary. These phrases are stable across SteamCMD
// builds; anything else falls through to EventUnrecognized.
var (
	reItemSuccess = regexp.MustCompile(`^Success\. Downloaded item (\d+)`)
	reItemFailed  = regexp.MustCompile(`^ERROR! Download item (\d+) failed \(([^)]*)\)`)
	reItemStart   = regexp.MustCompile(`^Downloading item (\d+)`)
	reLoginFailed = regexp.MustCompile(`FAILED \(([^)]*)\)|FAILED login`)
)

const rateLimitReason = "Rate Limit Exceeded"

// Classify maps a single output line onto the event vocabulary.
func Classify(line string) Event {
	line = strings.TrimSpace(line)

	if m := reItemSuccess.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventItemSuccess, ItemID: m[1], Raw: line}
	}

	if m := reItemFailed.FindStringSubmatch(line); m != nil {
		kind := EventItemFailed
		if strings.EqualFold(m[2], rateLimitReason) {
			kind = EventRateLimited
		}
		return Event{Kind: kind, ItemID: m[1], Reason: m[2], Raw: line}
	}

	if m := reItemStart.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventItemStart, ItemID: m[1], Raw: line}
	}

	if strings.Contains(line, "Logged in OK") ||
		strings.Contains(line, "Waiting for user info...OK") {
		return Event{Kind: EventLoginOK, Raw: line}
	}

	if m := reLoginFailed.FindStringSubmatch(line); m != nil {
		reason := m[1]
		if reason == "" {
			reason = "login failed"
		}
		return Event{Kind: EventLoginFailed, Reason: reason, Raw: line}
	}

	return Event{Kind: EventUnrecognized, Raw: line}
}
