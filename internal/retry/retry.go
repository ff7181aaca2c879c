// Package retry provides a small retry policy shared by agent setup,
// process start, and connectivity probe paths. A Policy couples an attempt
// ceiling with a backoff function so the policy is decoupled from the call
// site.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BackoffFunc returns the delay to sleep after a failed attempt.
// The attempt index is 1-based.
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff returns attempt × unit.
func LinearBackoff(unit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// FixedBackoff returns the same delay for every attempt.
func FixedBackoff(delay time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return delay
	}
}

// Policy is an attempt ceiling plus a backoff function.
// Policies are cheap value objects scoped to a single operation.
type Policy struct {
	Attempts int
	Backoff  BackoffFunc
}

// permanentError marks an error as non-retryable.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps an error so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, the attempt ceiling is exhausted, a
// Permanent error is returned, or ctx is cancelled. The terminal error
// wraps the last failure.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == attempts {
			break
		}

		if p.Backoff != nil {
			select {
			case <-time.After(p.Backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("%d attempts exhausted: %w", attempts, lastErr)
}
