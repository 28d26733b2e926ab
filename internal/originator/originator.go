// Package originator drives one distributed job run: push the source tree,
// connect to the worker fleet, publish the work and follow worker replies
// until every file is accounted for.
//
// The run loop is a single goroutine. Worker replies reach it through an
// inbox and are handled strictly in delivery order, so the job state needs no
// locking. Interrupts arrive as context cancellation and, like unhandled
// errors, go through the shutdown coordinator, which cancels the job at most
// once.
package originator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/livinlefevreloca/originator/internal/apperrors"
	"github.com/livinlefevreloca/originator/internal/channel"
	"github.com/livinlefevreloca/originator/internal/db"
	"github.com/livinlefevreloca/originator/internal/event"
	"github.com/livinlefevreloca/originator/internal/history"
	"github.com/livinlefevreloca/originator/internal/inbox"
	"github.com/livinlefevreloca/originator/internal/job"
	"github.com/livinlefevreloca/originator/internal/jobstate"
	"github.com/livinlefevreloca/originator/internal/observability"
	"github.com/livinlefevreloca/originator/internal/shutdown"
	"github.com/livinlefevreloca/originator/internal/source"
)

const defaultCancelTimeout = 10 * time.Second

// Originator represents a single job run
type Originator struct {
	runID  string
	config Config

	// State management
	state State

	// Dependencies
	syncer      Pusher
	dialer      channel.Dialer
	hooks       Hooks
	coordinator *shutdown.Coordinator
	metrics     *observability.Metrics
	history     History
	printer     Printer
	observers   []ObserverFactory
	stderr      io.Writer
	logger      *slog.Logger

	// Run resources, created as the run progresses
	treePath       string
	ch             channel.Channel
	job            *jobstate.State
	dispatcher     *event.Dispatcher
	definition     *job.Definition
	inbox          *inbox.Inbox[[]byte]
	closed         chan error
	disconnected   bool
	historyStarted bool

	// Phase timing
	timing PhaseTiming

	// Execution result
	err error

	// Optional state recorder for testing
	recorder *StateRecorder
}

// New creates an originator for one run
func New(runID string, config Config, deps Deps) *Originator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	if config.CancelTimeout <= 0 {
		config.CancelTimeout = defaultCancelTimeout
	}
	if config.InboxSize <= 0 {
		config.InboxSize = 1024
	}
	if config.SourceDir == "" {
		config.SourceDir = "."
	}

	hooks := deps.Hooks
	if hooks == nil {
		hooks = noHooks{}
	}
	coordinator := deps.Coordinator
	if coordinator == nil {
		coordinator = shutdown.NewCoordinator(logger)
	}
	stderr := deps.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	return &Originator{
		runID:       runID,
		config:      config,
		state:       &IdleState{},
		syncer:      deps.Syncer,
		dialer:      deps.Dialer,
		hooks:       hooks,
		coordinator: coordinator,
		metrics:     deps.Metrics,
		history:     deps.History,
		printer:     deps.Printer,
		observers:   deps.Observers,
		stderr:      stderr,
		logger:      logger,
		inbox:       inbox.New[[]byte](config.InboxSize, config.InboxSendTimeout, logger),
		closed:      make(chan error, 1),
		timing: PhaseTiming{
			CreatedAt: time.Now(),
		},
	}
}

// Run drives the job to a terminal state and returns the error that ended
// it, or nil on success. apperrors.ExitCode maps the error to an exit code.
func (o *Originator) Run(ctx context.Context) error {
	o.run(ctx)
	return o.err
}

// RunID returns the run identifier
func (o *Originator) RunID() string {
	return o.runID
}

// GetState returns the current state (for testing)
func (o *Originator) GetState() State {
	return o.state
}

// GetStateName returns the current state name (for testing)
func (o *Originator) GetStateName() string {
	return o.state.Name()
}

// JobState returns the tracker, nil before publishing
func (o *Originator) JobState() *jobstate.State {
	return o.job
}

// Timing returns the phase boundaries of the run
func (o *Originator) Timing() PhaseTiming {
	return o.timing
}

// transitionTo performs a state transition and logs it
func (o *Originator) transitionTo(newState State) {
	oldStateName := o.state.Name()
	o.state = newState

	if o.recorder != nil {
		o.recorder.Record(newState)
	}

	o.logger.Info("state transition",
		"from", oldStateName,
		"to", newState.Name())
}

// run is the main originator loop
func (o *Originator) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("originator panic recovered",
				"state", o.state.Name(),
				"panic", r)
			if o.terminal() {
				if o.err == nil {
					o.err = apperrors.Unhandled("panic", fmt.Errorf("%v", r))
				}
				return
			}
			o.fail(ctx, &FailedState{}, "panic", fmt.Errorf("%v", r))
			o.runFailed(ctx)
		}
	}()

	for {
		switch o.state.(type) {
		case *IdleState:
			o.runIdle(ctx)
		case *SyncingState:
			o.runSyncing(ctx)
		case *ConnectingState:
			o.runConnecting(ctx)
		case *PublishingState:
			o.runPublishing(ctx)
		case *RunningState:
			o.runRunning(ctx)
		case *CompletedState:
			o.runCompleted(ctx)
			return
		case *FailedState:
			o.runFailed(ctx)
			return
		case *CancelledState:
			o.runCancelled(ctx)
			return
		default:
			o.logger.Error("unknown state type",
				"state", fmt.Sprintf("%T", o.state))
			o.fail(ctx, &FailedState{}, "originator.run", fmt.Errorf("unknown state %T", o.state))
		}
	}
}

func (o *Originator) terminal() bool {
	switch o.state.(type) {
	case *CompletedState, *FailedState, *CancelledState:
		return true
	}
	return false
}

// runIdle refuses to go anywhere with an empty job
func (o *Originator) runIdle(ctx context.Context) {
	state := o.state.(*IdleState)

	if o.interrupted(ctx, state.ToCancelled()) {
		return
	}

	if len(o.config.Files) == 0 {
		fmt.Fprintln(o.stderr, "There are no files to run! Quitting.")
		o.stop(state.ToFailed(), apperrors.EmptyJob(o.config.Patterns))
		return
	}

	o.logger.Info("resolved files", "count", len(o.config.Files))
	o.transitionTo(state.ToSyncing())
}

// runSyncing pushes the source tree; nothing is connected until it succeeds
func (o *Originator) runSyncing(ctx context.Context) {
	state := o.state.(*SyncingState)

	treePath, err := source.FetchURI(o.config.FileServer)
	if err != nil {
		o.stop(state.ToFailed(), err)
		return
	}
	o.treePath = treePath

	started := time.Now()
	result := o.syncer.Push(ctx, treePath, o.config.SyncExclude)
	o.metrics.RecordSync(ctx, result.Success, time.Since(started).Seconds())

	if o.interrupted(ctx, state.ToCancelled()) {
		return
	}

	if !result.Success {
		fmt.Fprintf(o.stderr, "Command '%s' failed!\nStdout:\n%s\nStderr:\n%s\n",
			result.Command, result.Stdout, result.Stderr)

		cause := result.Err
		if cause == nil {
			cause = fmt.Errorf("exit status %d", result.ExitCode)
		}
		o.stop(state.ToFailed(), apperrors.SyncFailure(result.Command, cause))
		return
	}

	if result.Command != "" {
		o.logger.Info(fmt.Sprintf("Command '%s' completed successfully.", result.Command))
	}
	o.timing.SyncedAt = time.Now()
	o.transitionTo(state.ToConnecting())
}

// runConnecting opens the channel and hands it to the coordinator
func (o *Originator) runConnecting(ctx context.Context) {
	state := o.state.(*ConnectingState)

	o.logger.Info("connecting", "broker", o.config.Connection.Redacted())
	ch, err := o.dialer.Connect(ctx, o.config.Connection, o.onClosed)
	if err != nil {
		if o.interrupted(ctx, state.ToCancelled()) {
			return
		}
		o.fail(ctx, state.ToFailed(), "channel.connect", err)
		return
	}

	o.ch = ch
	o.coordinator.AttachChannel(ch)

	if o.interrupted(ctx, state.ToCancelled()) {
		return
	}
	o.transitionTo(state.ToPublishing())
}

// runPublishing publishes the files, builds the job state and publishes the job
func (o *Originator) runPublishing(ctx context.Context) {
	state := o.state.(*PublishingState)

	if err := o.hooks.BeforeStart(ctx); err != nil {
		if o.interrupted(ctx, state.ToCancelled()) {
			return
		}
		o.fail(ctx, state.ToFailed(), "hooks.before_start", err)
		return
	}
	if o.interrupted(ctx, state.ToCancelled()) {
		return
	}

	o.logger.Info("publishing files", "count", len(o.config.Files))
	if err := o.ch.PublishFiles(ctx, o.config.Files); err != nil {
		if o.interrupted(ctx, state.ToCancelled()) {
			return
		}
		o.fail(ctx, state.ToFailed(), "channel.publish_files", err)
		return
	}

	o.createJobStateAndObservers()

	revision, err := source.Revision(o.config.SourceDir)
	if err != nil {
		o.logger.Debug("source revision unavailable", "error", err)
	}
	o.definition = job.NewDefinition(o.runID, o.config.Job, o.treePath, revision)
	o.beginHistory(revision)

	// Cancellation may have begun while files were being published.
	if o.interrupted(ctx, state.ToCancelled()) {
		return
	}

	o.logger.Info("publishing job", "source_tree_path", o.definition.SourceTreePath())
	if err := o.ch.PublishJob(ctx, o.definition); err != nil {
		if o.interrupted(ctx, state.ToCancelled()) {
			return
		}
		o.fail(ctx, state.ToFailed(), "channel.publish_job", err)
		return
	}
	o.logger.Info("job published")

	o.metrics.RecordRunStarted(ctx, o.job.Total())
	o.timing.PublishedAt = time.Now()
	o.transitionTo(state.ToRunning())
}

func (o *Originator) createJobStateAndObservers() {
	o.job = jobstate.New(o.config.Files)
	o.coordinator.AttachJob(o.job)
	o.dispatcher = event.NewDispatcher(o.job, o.logger)

	if o.metrics != nil {
		o.job.AddObserver(o.metrics)
	}
	for _, newObserver := range o.observers {
		if observer := newObserver(o.job.Total()); observer != nil {
			o.job.AddObserver(observer)
		}
	}
}

func (o *Originator) beginHistory(revision string) {
	if o.history == nil {
		return
	}

	run := &db.Run{
		SourceTree: o.definition.SourceTreePath(),
		TotalFiles: o.job.Total(),
		StartedAt:  o.timing.CreatedAt,
	}
	if revision != "" {
		run.SourceRevision = &revision
	}

	if err := o.history.Begin(run); err != nil {
		o.logger.Warn("run history disabled for this run", "error", err)
		return
	}
	o.historyStarted = true
	o.job.AddObserver(o.history)
}

// runRunning follows worker replies until the job is complete
func (o *Originator) runRunning(ctx context.Context) {
	state := o.state.(*RunningState)

	err := o.ch.ReceivePayloads(ctx, func(raw []byte) {
		if err := o.inbox.Send(ctx, raw); err != nil {
			o.logger.Warn("dropped worker payload", "error", err)
		}
	})
	if err != nil {
		if o.interrupted(ctx, state.ToCancelled()) {
			return
		}
		o.fail(ctx, state.ToFailed(), "channel.receive_payloads", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			o.cancel(ctx, state.ToCancelled())
			return

		case err := <-o.closed:
			if err == nil {
				err = errors.New("channel closed before the job completed")
			}
			o.fail(ctx, state.ToFailed(), "channel.closed", err)
			return

		case raw := <-o.inbox.C():
			o.inbox.Received()
			if err := o.handleReply(ctx, raw); err != nil {
				o.fail(ctx, state.ToFailed(), "originator.handle_reply", err)
				return
			}
			if o.job.IsJobComplete() {
				o.cleanupIfJobComplete(ctx, state)
				return
			}
		}
	}
}

// handleReply decodes and routes one payload. Malformed payloads and events
// the job state rejects are logged and counted; the run continues.
func (o *Originator) handleReply(ctx context.Context, raw []byte) error {
	payload, err := event.Decode(raw)
	if err != nil {
		o.logger.Warn("discarding malformed payload", "error", err)
		o.metrics.RecordDecodeError(ctx)
		return nil
	}

	o.logger.Debug("log_message",
		"kind", payload.Kind.String(),
		"hostname", payload.Hostname,
		"worker_id", payload.WorkerID,
		"filename", payload.Filename,
		"type", payload.Type)

	if err := o.dispatcher.Route(payload); err != nil {
		if errors.Is(err, jobstate.ErrInvalidEvent) || errors.Is(err, jobstate.ErrJobFinished) {
			o.logger.Warn("ignoring event", "kind", payload.Kind.String(), "error", err)
			o.metrics.RecordInvalidEvent(ctx)
			return nil
		}
		return err
	}
	return nil
}

func (o *Originator) cleanupIfJobComplete(ctx context.Context, state *RunningState) {
	o.logger.Info("job is done",
		"finished", o.job.FinishedCount(),
		"crashed", o.job.CrashedCount(),
		"failed", o.job.FailedCount())

	if err := o.ch.Disconnect(ctx); err != nil {
		if o.interrupted(ctx, state.ToCancelled()) {
			return
		}
		o.fail(ctx, state.ToFailed(), "channel.disconnect", err)
		return
	}
	o.disconnected = true

	if err := o.hooks.AfterComplete(ctx); err != nil {
		if o.interrupted(ctx, state.ToCancelled()) {
			return
		}
		o.fail(ctx, state.ToFailed(), "hooks.after_complete", err)
		return
	}

	o.transitionTo(state.ToCompleted())
}

func (o *Originator) onClosed(err error) {
	select {
	case o.closed <- err:
	default:
	}
}

// interrupted moves to next and reports true when the run context has ended
// or cancellation has already begun.
func (o *Originator) interrupted(ctx context.Context, next *CancelledState) bool {
	if ctx.Err() == nil && !o.coordinator.ShuttingDown() {
		return false
	}
	o.cancel(ctx, next)
	return true
}

// cancel handles an operator interrupt
func (o *Originator) cancel(ctx context.Context, next *CancelledState) {
	reason := "interrupted"
	if ctx.Err() == nil {
		reason = o.coordinator.Reason()
	}

	fmt.Fprintln(o.stderr, "\nInterrupt received! Just wait a moment while I clean up...")

	cctx, cancel := o.cleanupContext(ctx)
	defer cancel()
	o.coordinator.CancelJob(cctx, reason)

	o.err = apperrors.Cancelled(reason)
	o.transitionTo(next)
}

// fail handles an unhandled error: the job is cancelled before the run ends
func (o *Originator) fail(ctx context.Context, next *FailedState, op string, err error) {
	var classified *apperrors.Error
	if !errors.As(err, &classified) {
		err = apperrors.Unhandled(op, err)
	}

	o.logger.Error("unhandled error in originator",
		"state", o.state.Name(),
		"op", op,
		"error", err)
	fmt.Fprintf(o.stderr, "Unhandled error in originator: %v\nNow attempting to cancel the job.\n", err)

	cctx, cancel := o.cleanupContext(ctx)
	defer cancel()
	o.coordinator.CancelJob(cctx, err.Error())

	o.err = err
	o.transitionTo(next)
}

// stop ends the run before anything was dispatched, so there is nothing to
// cancel.
func (o *Originator) stop(next *FailedState, err error) {
	o.err = err
	o.transitionTo(next)
}

func (o *Originator) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.config.CancelTimeout)
}

// runCompleted handles successful completion
func (o *Originator) runCompleted(ctx context.Context) {
	o.logger.Info("originator finished successfully")
	o.finalize(ctx, db.RunStatusCompleted)
}

// runFailed handles failure
func (o *Originator) runFailed(ctx context.Context) {
	o.logger.Info("originator failed",
		"error", o.err,
		"exit_code", apperrors.ExitCode(o.err))
	o.finalize(ctx, db.RunStatusFailed)
}

// runCancelled handles cancellation
func (o *Originator) runCancelled(ctx context.Context) {
	o.logger.Info("originator cancelled",
		"reason", o.coordinator.Reason())
	o.finalize(ctx, db.RunStatusCancelled)
}

// finalize releases the channel and reports the run outcome
func (o *Originator) finalize(ctx context.Context, status string) {
	o.timing.CompletedAt = time.Now()

	cctx, cancel := o.cleanupContext(ctx)
	defer cancel()

	if o.ch != nil && !o.disconnected {
		if err := o.ch.Disconnect(cctx); err != nil {
			o.logger.Warn("failed to disconnect channel", "error", err)
		}
		o.disconnected = true
	}

	o.metrics.RecordRunCompleted(cctx, status, o.timing.CompletedAt.Sub(o.timing.CreatedAt).Seconds())

	if o.job == nil {
		return
	}

	stats := o.inbox.GetStats()
	o.logger.Debug("payload inbox stats",
		"received", stats.TotalReceived,
		"sent", stats.TotalSent,
		"max_depth", stats.MaxDepthSeen,
		"timeouts", stats.TimeoutCount)

	if o.historyStarted {
		if err := o.history.Finish(history.Summary(status, o.job, o.err)); err != nil {
			o.logger.Error("failed to record run history", "error", err)
		}
	}

	if o.printer != nil {
		if err := o.printer.Print(o.job); err != nil {
			o.logger.Warn("failed to print run summary", "error", err)
		}
	}
}
