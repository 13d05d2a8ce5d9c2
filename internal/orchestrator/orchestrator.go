package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zomboidtools/modfetch/internal/config"
	"github.com/zomboidtools/modfetch/internal/logger"
	"github.com/zomboidtools/modfetch/internal/model"
	"github.com/zomboidtools/modfetch/internal/postprocess"
	"github.com/zomboidtools/modfetch/internal/steamcmd"
	"github.com/zomboidtools/modfetch/internal/store"
	"github.com/zomboidtools/modfetch/internal/workshop"
)

// State is the orchestrator's position in the batch lifecycle.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateFetching
	StatePostProcessing
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateResolving:
		return "ResolvingDependencies"
	case StateFetching:
		return "Fetching"
	case StatePostProcessing:
		return "PostProcessing"
	default:
		return "Idle"
	}
}

// ErrBusy is returned when a batch is requested while one is already in
// flight. At most one batch is Fetching or PostProcessing at any time.
var ErrBusy = errors.New("a batch is already in progress")

// Orchestrator ties the queue store, dependency resolver, process driver
// and post-processor together into the download state machine.
type Orchestrator struct {
	store    *store.Store
	resolver ClosureResolver
	driver   BatchDriver
	proc     PayloadProcessor
	settings *config.Settings
	log      *logger.Logger

	mu       sync.Mutex
	state    State
	onStatus func(model.StatusEvent)
}

// New creates a new Orchestrator.
func New(st *store.Store, res ClosureResolver, drv BatchDriver, proc PayloadProcessor, settings *config.Settings, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		resolver: res,
		driver:   drv,
		proc:     proc,
		settings: settings,
		log:      log,
		state:    StateIdle,
	}
}

// SetStatusCallback sets the callback invoked for every per-item status
// change, for consumption by a presentation layer.
func (o *Orchestrator) SetStatusCallback(cb func(model.StatusEvent)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStatus = cb
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Enqueue adds an item to the download queue.
func (o *Orchestrator) Enqueue(id, sourceURL, title string) error {
	err := o.store.Enqueue(model.Item{
		ID:        id,
		SourceURL: sourceURL,
		Title:     title,
	})
	if err != nil {
		return err
	}
	o.emit(id, model.StatusQueued, "")
	return nil
}

// RunOnce drains the current queue as a single batch: snapshot, expand the
// dependency closure, run SteamCMD, post-process successes, and record
// terminal outcomes. Returns nil without doing anything when the queue is
// empty.
//
// Cancelling ctx during the fetch kills SteamCMD and requeues every item
// that has no terminal outcome yet; the post-processor is not invoked.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if err := o.enterResolving(); err != nil {
		return err
	}
	defer o.setState(StateIdle)

	pending, err := o.store.Pending()
	if err != nil {
		return fmt.Errorf("reading queue: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	batch, err := o.resolveBatch(ctx, pending)
	if err != nil {
		return err
	}

	o.setState(StateFetching)
	for _, id := range batch {
		if err := o.store.MarkStatus(id, model.StatusFetching, ""); err != nil {
			return fmt.Errorf("marking item %s fetching: %w", id, err)
		}
		o.emit(id, model.StatusFetching, "")
	}

	result, runErr := o.driver.Run(ctx, batch, o.relayEvent)
	if result == nil {
		// Launch never happened; every member goes back untouched.
		o.requeue(batch)
		return fmt.Errorf("batch aborted: %w", runErr)
	}

	if result.LoginFailed {
		o.requeue(batch)
		return fmt.Errorf("batch aborted: %w", steamcmd.ErrLoginFailed)
	}
	if result.Cancelled {
		// Cancellation never fails items: everything goes back to Queued,
		// including items that finished downloading before the abort (their
		// payload is re-fetched cheaply from SteamCMD's cache next run).
		o.requeue(batch)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("batch aborted: %w", runErr)
		}
		return runErr
	}

	o.setState(StatePostProcessing)
	successIDs := result.SuccessIDs(batch)
	for _, id := range successIDs {
		if err := o.store.MarkStatus(id, model.StatusProcessing, ""); err != nil {
			return fmt.Errorf("marking item %s processing: %w", id, err)
		}
		o.emit(id, model.StatusProcessing, "")
	}
	procResults := o.proc.Process(successIDs, o.settings.TargetDir, o.settings.TargetDir)

	if err := o.finalize(batch, result, procResults); err != nil {
		return err
	}

	if o.settings.AutoClearQueue {
		if err := o.store.ClearTerminal(); err != nil {
			return fmt.Errorf("clearing queue: %w", err)
		}
	}

	return nil
}

// Run drains the queue whenever the trigger channel fires, until ctx is
// cancelled. A nil trigger drains once immediately and returns.
func (o *Orchestrator) Run(ctx context.Context, trigger <-chan struct{}) error {
	if trigger == nil {
		return o.RunOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
			if err := o.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.log.WithError(err).Error("batch run failed")
			}
		}
	}
}

// resolveBatch expands the pending snapshot into the full dependency
// closure and enqueues newly discovered dependencies. Dependencies already
// completed in history are considered satisfied and skipped.
func (o *Orchestrator) resolveBatch(ctx context.Context, pending []model.Item) ([]string, error) {
	seeds := make([]string, len(pending))
	seeded := make(map[string]bool, len(pending))
	for i, item := range pending {
		seeds[i] = item.ID
		seeded[item.ID] = true
	}

	closure, warnings := o.resolver.ExpandClosure(ctx, seeds)
	for _, w := range warnings {
		o.log.WithFields(logger.Fields{"item": w.ItemID, "warning": w.Message}).
			Warn("dependency resolution diagnostic")
	}

	batch := make([]string, 0, len(closure))
	for _, id := range closure {
		if seeded[id] {
			batch = append(batch, id)
			continue
		}

		done, err := o.store.HasCompleted(id)
		if err != nil {
			return nil, fmt.Errorf("checking history for %s: %w", id, err)
		}
		if done {
			o.log.WithField("item", id).Debug("dependency already downloaded, skipping")
			continue
		}

		err = o.store.Enqueue(model.Item{
			ID:        id,
			SourceURL: fmt.Sprintf(workshop.ItemPageURL, id),
		})
		if err != nil && !errors.Is(err, store.ErrDuplicateItem) {
			return nil, fmt.Errorf("enqueueing dependency %s: %w", id, err)
		}
		o.emit(id, model.StatusQueued, "added as dependency")
		batch = append(batch, id)
	}

	return batch, nil
}

// relayEvent forwards per-item process events as status events.
func (o *Orchestrator) relayEvent(ev steamcmd.Event) {
	switch ev.Kind {
	case steamcmd.EventItemStart:
		o.emit(ev.ItemID, model.StatusFetching, "downloading")
	case steamcmd.EventItemFailed:
		o.emit(ev.ItemID, model.StatusFetching, "failed: "+ev.Reason)
	case steamcmd.EventRateLimited:
		o.emit(ev.ItemID, model.StatusFetching, "rate limited, will retry")
	}
}

// finalize records the terminal outcome of every batch member: queue status,
// history record, and a status event.
func (o *Orchestrator) finalize(batch []string, result *steamcmd.BatchResult, procResults map[string]postprocess.Result) error {
	for _, id := range batch {
		outcome := result.Outcomes[id]

		switch outcome {
		case steamcmd.OutcomeRetry:
			if err := o.store.MarkStatus(id, model.StatusQueued, result.Reasons[id]); err != nil {
				return fmt.Errorf("requeueing item %s: %w", id, err)
			}
			o.emit(id, model.StatusQueued, "requeued: "+result.Reasons[id])

		case steamcmd.OutcomeSuccess:
			res := procResults[id]
			if res.Code == postprocess.CodeOK {
				if err := o.complete(id, res.Folders); err != nil {
					return err
				}
				continue
			}
			reason := "corrupt download: payload missing"
			if res.Err != nil {
				reason = res.Err.Error()
			}
			if err := o.fail(id, reason); err != nil {
				return err
			}

		default:
			reason := result.Reasons[id]
			if reason == "" {
				reason = "download failed"
			}
			if err := o.fail(id, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

// requeue returns items to Queued without recording history.
func (o *Orchestrator) requeue(ids []string) {
	for _, id := range ids {
		if err := o.store.MarkStatus(id, model.StatusQueued, ""); err != nil {
			o.log.WithError(err).WithField("item", id).Error("failed to requeue item")
			continue
		}
		o.emit(id, model.StatusQueued, "requeued")
	}
}

// complete marks an item Completed and appends its history record.
func (o *Orchestrator) complete(id string, folders []string) error {
	if err := o.store.MarkStatus(id, model.StatusCompleted, ""); err != nil {
		return fmt.Errorf("completing item %s: %w", id, err)
	}
	item, err := o.store.Get(id)
	if err != nil {
		return fmt.Errorf("reading item %s: %w", id, err)
	}
	err = o.store.RecordHistory(model.HistoryRecord{
		ItemID:     id,
		Title:      item.Title,
		Status:     model.StatusCompleted,
		Folders:    folders,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", id, err)
	}
	o.emit(id, model.StatusCompleted, "")
	return nil
}

// fail marks an item Failed and appends its history record with the
// failure reason.
func (o *Orchestrator) fail(id, reason string) error {
	if err := o.store.MarkStatus(id, model.StatusFailed, reason); err != nil {
		return fmt.Errorf("failing item %s: %w", id, err)
	}
	item, err := o.store.Get(id)
	if err != nil {
		return fmt.Errorf("reading item %s: %w", id, err)
	}
	err = o.store.RecordHistory(model.HistoryRecord{
		ItemID:     id,
		Title:      item.Title,
		Status:     model.StatusFailed,
		Error:      reason,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", id, err)
	}
	o.emit(id, model.StatusFailed, reason)
	return nil
}

// enterResolving transitions Idle -> ResolvingDependencies, rejecting
// concurrent batches.
func (o *Orchestrator) enterResolving() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrBusy
	}
	o.state = StateResolving
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(id string, status model.ItemStatus, msg string) {
	o.mu.Lock()
	cb := o.onStatus
	o.mu.Unlock()
	if cb != nil {
		cb(model.StatusEvent{ItemID: id, Status: status, Message: msg})
	}
}
