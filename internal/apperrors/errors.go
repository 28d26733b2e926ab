// Package apperrors classifies originator failures and maps them to process exit codes.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrConfiguration = errors.New("configuration error")
	ErrEmptyJob      = errors.New("no files to run")
	ErrSyncFailure   = errors.New("source sync failed")
	ErrDecode        = errors.New("malformed payload")
	ErrUnhandled     = errors.New("unhandled error")
	ErrCancelled     = errors.New("job cancelled")
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitSyncFailure   = 1
	ExitNoFiles       = 2
	ExitConfiguration = 3
	ExitUnhandled     = 4
	ExitInterrupted   = 130
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Op       string // Operation that failed (e.g., "source.push")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Configuration creates a configuration error for a missing or invalid setting.
func Configuration(message string) error {
	return &Error{
		Sentinel: ErrConfiguration,
		Message:  message,
	}
}

// EmptyJob reports that no files matched the configured patterns.
func EmptyJob(patterns []string) error {
	return &Error{
		Sentinel: ErrEmptyJob,
		Message:  fmt.Sprintf("there are no files to run (patterns: %v)", patterns),
	}
}

// SyncFailure reports a failed source push.
func SyncFailure(command string, cause error) error {
	return &Error{
		Sentinel: ErrSyncFailure,
		Message:  fmt.Sprintf("command '%s' failed", command),
		Op:       "source.push",
		Cause:    cause,
	}
}

// Decode wraps a payload decoding failure.
func Decode(cause error) error {
	return &Error{
		Sentinel: ErrDecode,
		Message:  fmt.Sprintf("malformed payload: %v", cause),
		Op:       "event.decode",
		Cause:    cause,
	}
}

// Unhandled wraps any other failure during connect, publish or run.
func Unhandled(op string, cause error) error {
	return &Error{
		Sentinel: ErrUnhandled,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Cancelled reports a run stopped by an interrupt.
func Cancelled(reason string) error {
	return &Error{
		Sentinel: ErrCancelled,
		Message:  fmt.Sprintf("job cancelled: %s", reason),
		Op:       "originator.cancel",
	}
}

// ExitCode maps an error returned by a run to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrEmptyJob):
		return ExitNoFiles
	case errors.Is(err, ErrSyncFailure):
		return ExitSyncFailure
	case errors.Is(err, ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, ErrCancelled):
		return ExitInterrupted
	default:
		return ExitUnhandled
	}
}
