package event

import (
	"log/slog"

	"github.com/livinlefevreloca/originator/internal/jobstate"
)

// Tracker is the job state the dispatcher routes into.
type Tracker interface {
	FileStarted(jobstate.FileEvent) error
	FileFinished(jobstate.FileEvent) error
	JobCrashMessage(jobstate.CrashEvent) error
}

// Dispatcher routes decoded payloads by kind.
type Dispatcher struct {
	tracker Tracker
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher routing into tracker.
func NewDispatcher(tracker Tracker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tracker: tracker,
		logger:  logger,
	}
}

// Route applies p to the tracker. Exceptions and unclassified payloads are
// only logged.
func (d *Dispatcher) Route(p Payload) error {
	switch p.Kind {
	case KindStart:
		return d.tracker.FileStarted(fileEvent(p))
	case KindFinish:
		return d.tracker.FileFinished(fileEvent(p))
	case KindCrash:
		d.logger.Error("worker crashed",
			"hostname", p.Hostname,
			"stdout", p.Stdout,
			"stderr", p.Stderr)
		return d.tracker.JobCrashMessage(jobstate.CrashEvent{
			Hostname: p.Hostname,
			Message:  p.Message,
			Stdout:   p.Stdout,
			Stderr:   p.Stderr,
		})
	case KindException:
		d.logger.Warn("worker exception",
			"hostname", p.Hostname,
			"message", p.Message,
			"backtrace", p.Backtrace)
		return nil
	case KindUnclassified:
		d.logger.Warn("unclassified payload", "payload", p.Raw)
		return nil
	default:
		d.logger.Warn("unknown payload kind", "kind", int(p.Kind), "payload", p.Raw)
		return nil
	}
}

func fileEvent(p Payload) jobstate.FileEvent {
	return jobstate.FileEvent{
		Filename: p.Filename,
		Hostname: p.Hostname,
		WorkerID: p.WorkerID,
		Failed:   p.Failed(),
		Failures: p.Failures,
	}
}
