// Package jobstate tracks the progress of every file task in a job run.
//
// A State is owned by a single goroutine: the run loop that routes inbound
// events. It performs no locking.
package jobstate

import "fmt"

// State aggregates the tasks of one job run.
type State struct {
	total     int
	tasks     map[string]*Task
	order     []string
	finished  int
	crashed   int
	failed    int
	crashes   []CrashEvent
	complete  bool
	cancelled bool
	observers []Observer
}

// New creates a State tracking the given files, all pending.
func New(files []string) *State {
	s := &State{
		tasks: make(map[string]*Task, len(files)),
		order: make([]string, 0, len(files)),
	}
	for _, f := range files {
		if _, ok := s.tasks[f]; ok {
			continue
		}
		s.tasks[f] = &Task{Filename: f, Status: TaskPending}
		s.order = append(s.order, f)
	}
	s.total = len(s.order)
	s.checkComplete()
	return s
}

// AddObserver registers an observer for subsequent updates.
func (s *State) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// FileStarted moves a pending task to running.
func (s *State) FileStarted(ev FileEvent) error {
	task, err := s.lookup(ev.Filename)
	if err != nil {
		return err
	}
	if task.Status != TaskPending {
		return fmt.Errorf("%w: start for %s in status %s", ErrInvalidEvent, ev.Filename, task.Status)
	}

	task.Status = TaskRunning
	task.Hostname = ev.Hostname
	task.WorkerID = ev.WorkerID
	s.notify(Update{Kind: UpdateFileStarted, Task: *task})
	return nil
}

// FileFinished moves a pending or running task to finished. A worker may
// report a finish without a prior start when the start message was lost.
func (s *State) FileFinished(ev FileEvent) error {
	task, err := s.lookup(ev.Filename)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("%w: finish for %s in status %s", ErrInvalidEvent, ev.Filename, task.Status)
	}

	task.Status = TaskFinished
	if ev.Hostname != "" {
		task.Hostname = ev.Hostname
	}
	if ev.WorkerID != "" {
		task.WorkerID = ev.WorkerID
	}
	if ev.Failed {
		task.Failed = true
		task.Failures = append([]string(nil), ev.Failures...)
		s.failed++
	}
	s.finished++
	s.checkComplete()
	s.notify(Update{Kind: UpdateFileFinished, Task: *task})
	return nil
}

// JobCrashMessage records a job-level crash. Tasks running on the crashed
// host become crashed and the job is complete from here on.
func (s *State) JobCrashMessage(ev CrashEvent) error {
	if s.complete || s.cancelled {
		return ErrJobFinished
	}

	var crashed []Task
	for _, name := range s.order {
		task := s.tasks[name]
		if task.Status == TaskRunning && task.Hostname == ev.Hostname {
			task.Status = TaskCrashed
			s.crashed++
			crashed = append(crashed, *task)
		}
	}
	s.crashes = append(s.crashes, ev)
	s.complete = true
	s.notify(Update{Kind: UpdateJobCrashed, Crash: &ev, CrashedTasks: crashed})
	return nil
}

// Cancel marks the job as cancelled. Calling it again has no effect.
func (s *State) Cancel() {
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.notify(Update{Kind: UpdateJobCancelled})
}

// IsJobComplete reports whether every task reached a terminal status or a
// job-level crash was recorded. Once true it stays true.
func (s *State) IsJobComplete() bool {
	return s.complete
}

// IsJobCancelled reports whether Cancel was called.
func (s *State) IsJobCancelled() bool {
	return s.cancelled
}

func (s *State) Total() int         { return s.total }
func (s *State) FinishedCount() int { return s.finished }
func (s *State) CrashedCount() int  { return s.crashed }
func (s *State) FailedCount() int   { return s.failed }

// RemainingCount is the number of tasks not yet in a terminal status.
func (s *State) RemainingCount() int {
	return s.total - s.finished - s.crashed
}

// Task returns a copy of the named task.
func (s *State) Task(filename string) (Task, bool) {
	task, ok := s.tasks[filename]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// EachFailedFile calls fn for every finished task that reported failures,
// in file order.
func (s *State) EachFailedFile(fn func(Task)) {
	for _, name := range s.order {
		if task := s.tasks[name]; task.Failed {
			fn(*task)
		}
	}
}

// CrashedHosts returns the crash reports received so far.
func (s *State) CrashedHosts() []CrashEvent {
	return append([]CrashEvent(nil), s.crashes...)
}

// RunningWorkers returns the tasks currently running, in file order.
func (s *State) RunningWorkers() []Task {
	var running []Task
	for _, name := range s.order {
		if task := s.tasks[name]; task.Status == TaskRunning {
			running = append(running, *task)
		}
	}
	return running
}

func (s *State) lookup(filename string) (*Task, error) {
	if s.complete || s.cancelled {
		return nil, ErrJobFinished
	}
	task, ok := s.tasks[filename]
	if !ok {
		return nil, fmt.Errorf("%w: unknown file %q", ErrInvalidEvent, filename)
	}
	return task, nil
}

func (s *State) checkComplete() {
	if s.finished+s.crashed >= s.total {
		s.complete = true
	}
}

func (s *State) notify(u Update) {
	u.Total = s.total
	u.Finished = s.finished
	u.Crashed = s.crashed
	u.Failed = s.failed
	u.Complete = s.complete
	for _, o := range s.observers {
		o.Notify(u)
	}
}
