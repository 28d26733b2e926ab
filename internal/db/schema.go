package db

import "time"

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
	RunStatusFailed    = "failed"
)

// Run is one originator job run
type Run struct {
	RunID          string
	SourceTree     string
	SourceRevision *string
	TotalFiles     int
	StartedAt      time.Time
	CompletedAt    *time.Time
	Status         string
	FinishedFiles  int
	CrashedFiles   int
	FailedFiles    int
	Error          *string
}

// RunSummary holds the final counters of a run
type RunSummary struct {
	Status        string
	FinishedFiles int
	CrashedFiles  int
	FailedFiles   int
	Error         *string
}

// TaskResult is the terminal outcome of one file in a run
type TaskResult struct {
	RunID      string
	Filename   string
	Status     string
	Hostname   string
	WorkerID   string
	Failed     bool
	Failures   []string
	RecordedAt time.Time
}
