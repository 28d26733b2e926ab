// Package inbox is a bounded, typed hand-off between producer goroutines and
// a single consuming loop.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when a send could not be delivered in time.
var ErrTimeout = errors.New("inbox send timeout")

// Inbox carries messages of type T to one consumer.
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	timeouts atomic.Int64
	maxDepth atomic.Int64
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox with the given buffer size. A zero timeout makes Send
// wait until the message is accepted or its context ends.
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send delivers msg, blocking while the buffer is full.
func (ib *Inbox[T]) Send(ctx context.Context, msg T) error {
	var expired <-chan time.Time
	if ib.timeout > 0 {
		timer := time.NewTimer(ib.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ib.ch <- msg:
		ib.sent.Add(1)
		ib.updateDepth()
		return nil
	case <-expired:
		ib.timeouts.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the receive side for use in select statements. Callers must call
// Received for every message taken from it.
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// Received records that a message was taken from C.
func (ib *Inbox[T]) Received() {
	ib.received.Add(1)
}

func (ib *Inbox[T]) updateDepth() {
	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepth.Load()
		if depth <= seen || ib.maxDepth.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// GetStats returns a snapshot of the inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		TimeoutCount:  ib.timeouts.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepth.Load()),
	}
}
