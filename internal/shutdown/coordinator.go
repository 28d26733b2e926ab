// Package shutdown guarantees that a job run is cancelled at most once, no
// matter how many interrupts or failures request it.
package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ChannelCanceller informs workers and the broker that the job is aborted.
type ChannelCanceller interface {
	Cancel(ctx context.Context) error
}

// JobCanceller marks the tracked job state as terminated.
type JobCanceller interface {
	Cancel()
}

// Coordinator is a two-state machine: active, then shutting down.
type Coordinator struct {
	shuttingDown atomic.Bool

	mu      sync.Mutex
	channel ChannelCanceller
	job     JobCanceller
	reason  string

	logger *slog.Logger
}

// NewCoordinator creates an active coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{logger: logger}
}

// AttachChannel registers the channel to cancel once it is connected.
func (c *Coordinator) AttachChannel(ch ChannelCanceller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = ch
}

// AttachJob registers the job state once it exists.
func (c *Coordinator) AttachJob(job JobCanceller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = job
}

// ShuttingDown reports whether cancellation has begun.
func (c *Coordinator) ShuttingDown() bool {
	return c.shuttingDown.Load()
}

// Reason returns the reason given by the call that won the cancellation.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// CancelJob enters the shutting-down state and requests cancellation from
// the attached collaborators. Only the first call does anything; it returns
// true. Cancellation requests are best effort and are not retried.
func (c *Coordinator) CancelJob(ctx context.Context, reason string) bool {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		c.logger.Debug("cancellation already in progress", "reason", reason)
		return false
	}

	c.mu.Lock()
	c.reason = reason
	ch, job := c.channel, c.job
	c.mu.Unlock()

	c.logger.Warn("cancelling job", "reason", reason)

	if ch != nil {
		if err := ch.Cancel(ctx); err != nil {
			c.logger.Error("failed to cancel job on channel", "error", err)
		}
	}
	if job != nil {
		job.Cancel()
	}
	return true
}
