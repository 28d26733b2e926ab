// Package history persists run records and per-file task results.
//
// A Recorder observes the job state on the run loop goroutine, buffers the
// terminal task results and hands them to a single writer goroutine, so a
// slow database never stalls payload processing.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/originator/internal/db"
	"github.com/livinlefevreloca/originator/internal/jobstate"
)

// ErrBufferFull is returned when the buffer exceeds its configured maximum.
var ErrBufferFull = errors.New("history buffer full")

// Writer persists one task result.
type Writer interface {
	WriteTaskResult(result db.TaskResult) error
}

// Store is the persistence surface the recorder needs.
type Store interface {
	Writer
	CreateRun(run *db.Run) error
	CompleteRun(runID string, summary db.RunSummary) error
}

// Recorder buffers task results and writes them asynchronously
type Recorder struct {
	config Config
	runID  string
	store  Store
	logger *slog.Logger
	now    func() time.Time

	buffer  []db.TaskResult
	results chan db.TaskResult
	dropped int

	started  bool
	finished bool
	wg       sync.WaitGroup
}

// NewRecorder creates a recorder for one run
func NewRecorder(config Config, runID string, store Store, logger *slog.Logger) (*Recorder, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Recorder{
		config:  config,
		runID:   runID,
		store:   store,
		logger:  logger.With("run_id", runID),
		now:     time.Now,
		buffer:  make([]db.TaskResult, 0),
		results: make(chan db.TaskResult, config.ChannelSize),
	}, nil
}

// Begin stores the run record and starts the writer goroutine
func (r *Recorder) Begin(run *db.Run) error {
	if r.started {
		return fmt.Errorf("recorder for run %s already started", r.runID)
	}

	run.RunID = r.runID
	if run.Status == "" {
		run.Status = db.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = r.now()
	}
	if err := r.store.CreateRun(run); err != nil {
		return fmt.Errorf("creating run %s: %w", r.runID, err)
	}

	r.started = true
	r.wg.Add(1)
	go r.runWriter()

	r.logger.Debug("history recorder started", "total_files", run.TotalFiles)
	return nil
}

// Notify implements jobstate.Observer
func (r *Recorder) Notify(u jobstate.Update) {
	if !r.started || r.finished {
		return
	}

	switch u.Kind {
	case jobstate.UpdateFileFinished:
		r.record(u.Task)
	case jobstate.UpdateJobCrashed:
		for _, task := range u.CrashedTasks {
			r.record(task)
		}
	default:
		return
	}

	if len(r.buffer) >= r.config.FlushThreshold {
		if err := r.Flush(); err != nil {
			r.logger.Debug("deferring history flush", "error", err)
		}
	}
}

func (r *Recorder) record(task jobstate.Task) {
	if len(r.buffer) >= r.config.MaxBuffered {
		r.dropped++
		r.logger.Error("dropping task result",
			"filename", task.Filename,
			"error", ErrBufferFull)
		return
	}

	r.buffer = append(r.buffer, db.TaskResult{
		RunID:      r.runID,
		Filename:   task.Filename,
		Status:     task.Status.String(),
		Hostname:   task.Hostname,
		WorkerID:   task.WorkerID,
		Failed:     task.Failed,
		Failures:   append([]string(nil), task.Failures...),
		RecordedAt: r.now(),
	})
}

// Flush sends buffered results to the writer without blocking.
// Results that do not fit stay buffered for the next flush.
func (r *Recorder) Flush() error {
	for len(r.buffer) > 0 {
		select {
		case r.results <- r.buffer[0]:
			r.buffer = r.buffer[1:]
		default:
			return fmt.Errorf("history channel full, %d results buffered", len(r.buffer))
		}
	}
	return nil
}

// Buffered returns the number of results not yet handed to the writer
func (r *Recorder) Buffered() int {
	return len(r.buffer)
}

// Dropped returns the number of results discarded because the buffer was full
func (r *Recorder) Dropped() int {
	return r.dropped
}

func (r *Recorder) runWriter() {
	defer r.wg.Done()

	for result := range r.results {
		if err := r.store.WriteTaskResult(result); err != nil {
			r.logger.Error("failed to write task result",
				"filename", result.Filename,
				"error", err)
			continue
		}
		r.logger.Debug("wrote task result",
			"filename", result.Filename,
			"status", result.Status)
	}

	r.logger.Debug("history writer shut down")
}

// Finish drains every buffered result and stores the run summary
func (r *Recorder) Finish(summary db.RunSummary) error {
	if !r.started || r.finished {
		return nil
	}
	r.finished = true

	r.logger.Debug("performing final history flush", "results", len(r.buffer))

	// The writer is draining, so blocking sends complete.
	for _, result := range r.buffer {
		r.results <- result
	}
	r.buffer = nil

	close(r.results)
	r.wg.Wait()

	if err := r.store.CompleteRun(r.runID, summary); err != nil {
		return fmt.Errorf("completing run %s: %w", r.runID, err)
	}

	r.logger.Info("run recorded",
		"status", summary.Status,
		"finished_files", summary.FinishedFiles,
		"crashed_files", summary.CrashedFiles,
		"failed_files", summary.FailedFiles)
	return nil
}

// Summary builds a run summary from the job state counters
func Summary(status string, state *jobstate.State, runErr error) db.RunSummary {
	summary := db.RunSummary{Status: status}
	if state != nil {
		summary.FinishedFiles = state.FinishedCount()
		summary.CrashedFiles = state.CrashedCount()
		summary.FailedFiles = state.FailedCount()
	}
	if runErr != nil {
		msg := runErr.Error()
		summary.Error = &msg
	}
	return summary
}
