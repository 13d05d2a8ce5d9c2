package steamcmd

import (
	"context"
	"os"
	"time"
)

// watchdog cancels its context when Kick is not called within the timeout.
// It guards against a SteamCMD process that neither produces output nor
// exits.
type watchdog struct {
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(parent context.Context, timeout time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			cancel(os.ErrDeadlineExceeded)
		})
	}
	return ctx, &watchdog{
		cancel:  cancel,
		timer:   timer,
		timeout: timeout,
	}
}

// Kick resets the inactivity timer. Called once per output line.
func (wd *watchdog) Kick() {
	if wd.timeout > 0 {
		wd.timer.Reset(wd.timeout)
	}
}

// Cancel stops the timer and releases the context.
func (wd *watchdog) Cancel() {
	if wd.timeout > 0 {
		wd.timer.Stop()
	}
	wd.cancel(nil)
}
