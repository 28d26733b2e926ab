package originator

import "time"

// State is the interface that all originator states must implement
type State interface {
	Name() string
}

// IdleState - created, files resolved, nothing done yet
type IdleState struct{}

func (s *IdleState) Name() string { return "idle" }
func (s *IdleState) ToSyncing() *SyncingState {
	return &SyncingState{}
}
func (s *IdleState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *IdleState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// SyncingState - pushing the source tree to the file server
type SyncingState struct{}

func (s *SyncingState) Name() string { return "syncing" }
func (s *SyncingState) ToConnecting() *ConnectingState {
	return &ConnectingState{}
}
func (s *SyncingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *SyncingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// ConnectingState - opening the message channel
type ConnectingState struct{}

func (s *ConnectingState) Name() string { return "connecting" }
func (s *ConnectingState) ToPublishing() *PublishingState {
	return &PublishingState{}
}
func (s *ConnectingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *ConnectingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// PublishingState - publishing files and the job definition
type PublishingState struct{}

func (s *PublishingState) Name() string { return "publishing" }
func (s *PublishingState) ToRunning() *RunningState {
	return &RunningState{}
}
func (s *PublishingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *PublishingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// RunningState - consuming worker payloads until the job completes
type RunningState struct{}

func (s *RunningState) Name() string { return "running" }
func (s *RunningState) ToCompleted() *CompletedState {
	return &CompletedState{}
}
func (s *RunningState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *RunningState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// Terminal States

// CompletedState - every file finished or crashed, channel disconnected
type CompletedState struct{}

func (s *CompletedState) Name() string { return "completed" }

// FailedState - failed
type FailedState struct{}

func (s *FailedState) Name() string { return "failed" }

// CancelledState - cancelled by an operator interrupt
type CancelledState struct{}

func (s *CancelledState) Name() string { return "cancelled" }

// Helper to track state transitions for testing
type StateRecorder struct {
	path []string
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{path: make([]string, 0)}
}

func (r *StateRecorder) Record(state State) {
	r.path = append(r.path, state.Name())
}

func (r *StateRecorder) Path() []string {
	return r.path
}

// Phase timing boundaries (stored separately from states)
type PhaseTiming struct {
	CreatedAt   time.Time
	SyncedAt    time.Time
	PublishedAt time.Time
	CompletedAt time.Time
}
