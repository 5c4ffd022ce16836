package retry

import (
	"errors"
	"fmt"
	"time"
)

// Attempt records a single invocation of a retried operation.
type Attempt struct {
	Number int
	Start  time.Time
	End    time.Time
	// Delay is the backoff slept after this attempt failed. Zero for the last attempt.
	Delay time.Duration
	Err   error
}

// Duration reports how long the attempt ran.
func (a Attempt) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// History is the ordered list of attempts made for one operation.
type History struct {
	Operation string
	Start     time.Time
	Attempts  []Attempt
}

// TotalDuration reports the wall time from the first attempt to the end of the last one.
func (h *History) TotalDuration() time.Duration {
	if h == nil || len(h.Attempts) == 0 {
		return 0
	}
	return h.Attempts[len(h.Attempts)-1].End.Sub(h.Start)
}

// Last returns the most recent attempt, or nil when none were made.
func (h *History) Last() *Attempt {
	if h == nil || len(h.Attempts) == 0 {
		return nil
	}
	return &h.Attempts[len(h.Attempts)-1]
}

// Error is returned when an operation fails terminally. It unwraps to the last cause.
type Error struct {
	Operation string
	History   History
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Operation, len(e.History.Attempts), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Attempts reports how many times the operation was invoked.
func (e *Error) Attempts() int { return len(e.History.Attempts) }

// TimeoutError reports an attempt that exceeded its per-attempt timeout.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// Timeout lets callers treat the error like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

type criticalError struct {
	err error
}

func (e *criticalError) Error() string { return e.err.Error() }
func (e *criticalError) Unwrap() error { return e.err }

// Critical marks err as non-retryable for the default predicate.
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return &criticalError{err: err}
}

// IsCritical reports whether err, or anything it wraps, was marked Critical.
func IsCritical(err error) bool {
	var ce *criticalError
	return errors.As(err, &ce)
}
