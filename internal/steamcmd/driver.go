package steamcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zomboidtools/modfetch/internal/config"
	"github.com/zomboidtools/modfetch/internal/logger"
)

// WorkshopAppID is the Steam application id whose Workshop this tool
// targets (Project Zomboid).
const WorkshopAppID = "108600"

// scratchDirName is the root of SteamCMD's own on-disk layout beneath the
// install directory. It is removed by post-processing once payloads are
// relocated.
const scratchDirName = "steamapps"

// ErrLoginFailed aborts a whole batch; every member is requeued.
var ErrLoginFailed = errors.New("steam login failed")

// ErrBatchInProgress is returned when a second batch is started while one
// is already running. Batches are serialized to keep two processes from
// racing over the same scratch directory.
var ErrBatchInProgress = errors.New("a download batch is already in progress")

// LaunchError means the SteamCMD process could not be started at all.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to start steamcmd: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ItemOutcome is the terminal-for-this-attempt classification of one item
// in a batch.
type ItemOutcome int

const (
	// OutcomeUnknown means SteamCMD never reported the item. Treated as
	// failed for safety.
	OutcomeUnknown ItemOutcome = iota

	// OutcomeSuccess means SteamCMD reported the item downloaded.
	OutcomeSuccess

	// OutcomeFailed means SteamCMD reported the item failed.
	OutcomeFailed

	// OutcomeRetry means the item should go back to the queue: the batch
	// was cancelled, login failed, or Steam rate-limited the item.
	OutcomeRetry
)

// BatchResult accumulates the per-item classifications of one SteamCMD run.
type BatchResult struct {
	BatchID     string
	Outcomes    map[string]ItemOutcome
	Reasons     map[string]string
	LoginFailed bool
	Cancelled   bool
	ExitErr     error
}

// SuccessIDs returns the ids reported downloaded, in batch order.
func (r *BatchResult) SuccessIDs(batch []string) []string {
	var ids []string
	for _, id := range batch {
		if r.Outcomes[id] == OutcomeSuccess {
			ids = append(ids, id)
		}
	}
	return ids
}

// Driver runs SteamCMD over a batch of Workshop item ids and turns its
// streaming output into classified events. One OS process per batch; runs
// are serialized.
type Driver struct {
	toolPath    string
	installRoot string
	login       config.LoginSettings
	inactivity  time.Duration
	log         *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewDriver creates a Driver from the settings snapshot. The target
// directory doubles as SteamCMD's install root; downloads land beneath its
// steamapps scratch hierarchy until post-processing relocates them.
func NewDriver(settings *config.Settings, log *logger.Logger) *Driver {
	return &Driver{
		toolPath:    settings.SteamCMDPath,
		installRoot: settings.TargetDir,
		login:       settings.Login,
		inactivity:  settings.InactivityTimeout,
		log:         log,
	}
}

// ContentDir returns the directory SteamCMD downloads Workshop payloads
// into, keyed by the fixed app id.
func ContentDir(installRoot string) string {
	return filepath.Join(installRoot, scratchDirName, "workshop", "content", WorkshopAppID)
}

// ScratchDir returns the root of SteamCMD's temporary on-disk layout.
func ScratchDir(installRoot string) string {
	return filepath.Join(installRoot, scratchDirName)
}

// buildArgs constructs the SteamCMD invocation: install dir, login, one
// download directive per item, quit.
func (d *Driver) buildArgs(ids []string) []string {
	args := []string{"+force_install_dir", d.installRoot}

	if d.login.Anonymous {
		args = append(args, "+login", "anonymous")
	} else {
		args = append(args, "+login", d.login.Username)
	}

	for _, id := range ids {
		args = append(args, "+workshop_download_item", WorkshopAppID, id)
	}

	return append(args, "+quit")
}

// Run executes one batch. Every output line is classified and forwarded to
// the events callback as it arrives; the returned BatchResult is built from
// the accumulated per-item classifications once the process exits.
//
// Cancelling ctx kills the process; items not yet terminal are marked
// OutcomeRetry so they return to the queue rather than Failed. The same
// applies when the inactivity watchdog fires.
func (d *Driver) Run(ctx context.Context, ids []string, events func(Event)) (*BatchResult, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil, ErrBatchInProgress
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	result := &BatchResult{
		BatchID:  uuid.NewString(),
		Outcomes: make(map[string]ItemOutcome, len(ids)),
		Reasons:  make(map[string]string),
	}
	for _, id := range ids {
		result.Outcomes[id] = OutcomeUnknown
	}

	if err := os.MkdirAll(d.installRoot, 0o755); err != nil {
		return nil, &LaunchError{Err: err}
	}

	runCtx, wd := newWatchdog(ctx, d.inactivity)
	defer wd.Cancel()

	cmd := exec.CommandContext(runCtx, d.toolPath, d.buildArgs(ids)...)
	cmd.Cancel = func() error {
		// forceful termination, not a polite shutdown
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second

	// Merge stdout and stderr into one line stream.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	batchLog := d.log.WithField("batch", result.BatchID)
	batchLog.WithFields(logger.Fields{"items": len(ids), "tool": d.toolPath}).
		Info("starting steamcmd batch")

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &LaunchError{Err: err}
	}

	done := make(chan struct{})
	var scanErr error
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			wd.Kick()
			ev := Classify(scanner.Text())
			d.apply(result, ev, batchLog)
			if events != nil {
				events(ev)
			}
		}
		scanErr = scanner.Err()
		if scanErr != nil {
			// keep draining so the process is not blocked on a full pipe
			_, _ = io.Copy(io.Discard, pr)
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-done
	pr.Close()

	if scanErr != nil {
		batchLog.WithError(scanErr).
			Warn("steamcmd output stream ended early, later lines were not classified")
	}

	cancelled := runCtx.Err() != nil
	result.Cancelled = cancelled
	result.ExitErr = waitErr

	switch {
	case cancelled:
		cause := context.Cause(runCtx)
		d.requeuePending(result)
		if errors.Is(cause, os.ErrDeadlineExceeded) {
			batchLog.Warn("steamcmd produced no output within the inactivity timeout, process killed")
			return result, fmt.Errorf("steamcmd stalled: %w", cause)
		}
		batchLog.Info("steamcmd batch cancelled, pending items requeued")
		return result, cause

	case result.LoginFailed:
		d.requeuePending(result)
		return result, ErrLoginFailed

	case waitErr != nil:
		// Abnormal exit with no explicit per-item failures fails every
		// still-pending item.
		reason := fmt.Sprintf("steamcmd exited abnormally: %v", waitErr)
		for id, outcome := range result.Outcomes {
			if outcome == OutcomeUnknown {
				result.Outcomes[id] = OutcomeFailed
				result.Reasons[id] = reason
			}
		}
		batchLog.WithError(waitErr).Error("steamcmd batch failed")
		return result, nil

	default:
		// Normal exit: anything never reported is treated as failed for
		// safety.
		reason := "item not reported by steamcmd"
		if scanErr != nil {
			reason = fmt.Sprintf("steamcmd output could not be fully read: %v", scanErr)
		}
		for id, outcome := range result.Outcomes {
			if outcome == OutcomeUnknown {
				result.Outcomes[id] = OutcomeFailed
				result.Reasons[id] = reason
			}
		}
		batchLog.Info("steamcmd batch finished")
		return result, nil
	}
}

// apply folds one classified event into the batch result.
func (d *Driver) apply(result *BatchResult, ev Event, log *logger.Logger) {
	switch ev.Kind {
	case EventItemSuccess:
		if _, ok := result.Outcomes[ev.ItemID]; ok {
			result.Outcomes[ev.ItemID] = OutcomeSuccess
		}
		log.WithField("item", ev.ItemID).Info("item downloaded")

	case EventItemFailed:
		if _, ok := result.Outcomes[ev.ItemID]; ok {
			result.Outcomes[ev.ItemID] = OutcomeFailed
			result.Reasons[ev.ItemID] = ev.Reason
		}
		log.WithFields(logger.Fields{"item": ev.ItemID, "reason": ev.Reason}).
			Warn("item download failed")

	case EventRateLimited:
		if _, ok := result.Outcomes[ev.ItemID]; ok {
			result.Outcomes[ev.ItemID] = OutcomeRetry
			result.Reasons[ev.ItemID] = ev.Reason
		}
		log.WithField("item", ev.ItemID).Warn("rate limited, item will be retried")

	case EventLoginFailed:
		result.LoginFailed = true
		log.WithField("reason", ev.Reason).Error("steam login failed")

	case EventLoginOK:
		log.Debug("steam login ok")

	case EventItemStart:
		log.WithField("item", ev.ItemID).Debug("item download started")

	case EventUnrecognized:
		log.WithField("line", ev.Raw).Trace("steamcmd output")
	}
}

// requeuePending marks every non-terminal item for retry.
func (d *Driver) requeuePending(result *BatchResult) {
	for id, outcome := range result.Outcomes {
		if outcome == OutcomeUnknown {
			result.Outcomes[id] = OutcomeRetry
		}
	}
}
