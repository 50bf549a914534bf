// Package retry provides the exponential-backoff retry combinator used
// throughout the mirror pipeline, replacing the upstream Python
// implementation's method decorators
// (original_source/conda_oci_mirror/decorators.py's retry/classretry). A
// decorator wrapping a bound method is a Python attribute-protocol
// artifact with no Go analog; here it is an ordinary higher-order function
// taking a closure.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// DefaultAttempts is the maximum number of attempts (the first try plus
// retries) used when no explicit count is given.
const DefaultAttempts = 5

// baseDelay is the fixed component added to every backoff sleep.
const baseDelay = 2 * time.Second

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable: Do returns it immediately instead
// of continuing to the next attempt. Used for hard failures like auth
// refusal or a malformed response that no amount of retrying will fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn up to attempts times. Between attempts it sleeps
// baseDelay + 3^attemptIndex seconds (attemptIndex starting at 1 for the
// first retry), matching the upstream mirror's backoff schedule. Returns
// the last error if every attempt fails, or nil as soon as fn succeeds.
// Stops early if ctx is cancelled.
func Do(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			return lastErr
		}

		if attempt == attempts-1 {
			break
		}

		delay := baseDelay + time.Duration(math.Pow(3, float64(attempt+1)))*time.Second
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
