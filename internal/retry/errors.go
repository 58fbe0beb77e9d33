package retry

import (
	"context"
	"errors"
	"fmt"
)

// Error classification for the pipeline. Transient errors are retried at the
// call level; fatal errors surface immediately. Anything unclassified is
// treated as transient so that flaky infrastructure never permanently fails
// a job without exhausting retries first.

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Transient marks err as retryable at the call level.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf wraps a formatted error as transient.
func Transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// Fatal marks err as non-retryable. Fatal always wins over an outer
// transient wrapper.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Fatalf wraps a formatted error as fatal.
func Fatalf(format string, args ...any) error {
	return &fatalError{err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a fatal marker anywhere in its chain.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// IsTransient reports whether err should be retried. Context cancellation
// and fatal markers are never transient; an explicit transient marker or an
// unclassified error is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsFatal(err) {
		return false
	}
	return true
}
