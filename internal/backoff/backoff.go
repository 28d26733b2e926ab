// Package backoff computes delays between broker connection attempts.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 250ms
	Max     time.Duration // default: 10s
}

// Exponential returns the delay before the given attempt. Attempt 1 waits
// Initial, each later attempt doubles it up to Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 250 * time.Millisecond
	maxDelay := 10 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxDelay = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

// Retry calls fn up to attempts times, sleeping between failures. It stops
// early when ctx ends and returns the last error from fn.
func Retry(ctx context.Context, attempts int, cfg *Config, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(Exponential(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
