package jobstate

import "errors"

var (
	// ErrJobFinished is returned for events arriving after the job completed
	// or was cancelled.
	ErrJobFinished = errors.New("job already finished")

	// ErrInvalidEvent marks an event that cannot be applied to the job: an
	// unknown file or a transition that would regress a task.
	ErrInvalidEvent = errors.New("invalid job event")
)

// TaskStatus is the lifecycle position of a single file task.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskFinished
	TaskCrashed
)

// String returns a human-readable representation of the task status
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskFinished:
		return "finished"
	case TaskCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskFinished || s == TaskCrashed
}

// Task is the tracked state of one file.
type Task struct {
	Filename string
	Status   TaskStatus
	Hostname string
	WorkerID string
	Failed   bool
	Failures []string
}

// FileEvent is a task-level report from a worker.
type FileEvent struct {
	Filename string
	Hostname string
	WorkerID string
	Failed   bool
	Failures []string
}

// CrashEvent is a job-level fatal report from a worker host.
type CrashEvent struct {
	Hostname string
	Message  string
	Stdout   string
	Stderr   string
}

// UpdateKind identifies what changed in an Update.
type UpdateKind int

const (
	UpdateFileStarted UpdateKind = iota
	UpdateFileFinished
	UpdateJobCrashed
	UpdateJobCancelled
)

// String returns a human-readable representation of the update kind
func (k UpdateKind) String() string {
	switch k {
	case UpdateFileStarted:
		return "file_started"
	case UpdateFileFinished:
		return "file_finished"
	case UpdateJobCrashed:
		return "job_crashed"
	case UpdateJobCancelled:
		return "job_cancelled"
	default:
		return "unknown"
	}
}

// Update is delivered to observers after every state change.
type Update struct {
	Kind  UpdateKind
	Task  Task
	Crash *CrashEvent
	// CrashedTasks lists the tasks a crash report moved to crashed.
	CrashedTasks []Task
	Total        int
	Finished     int
	Crashed      int
	Failed       int
	Complete     bool
}

// Observer receives job state updates. Observers run on the caller's
// goroutine and must not call back into the State.
type Observer interface {
	Notify(Update)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Update)

// Notify calls f(u).
func (f ObserverFunc) Notify(u Update) { f(u) }
