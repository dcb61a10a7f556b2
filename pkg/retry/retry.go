package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy is the single retry policy injected into every network-calling collaborator.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration
	// Multiplier grows the delay after each failed attempt; 1 gives a fixed backoff
	Multiplier float64
	// Jitter is the fraction (0..1) of each delay that is randomized
	Jitter float64

	Logger *zap.Logger
}

// DefaultPolicy returns 5 attempts with exponential backoff from 500ms to 10s and 20% jitter.
func DefaultPolicy(l *zap.Logger) *Policy {
	return &Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
		Logger:         l,
	}
}

// NetworkFetchError is returned once every attempt of an operation has failed.
type NetworkFetchError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *NetworkFetchError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *NetworkFetchError) Unwrap() error {
	return e.Err
}

// Attempts reports how many tries a failed Do made. Errors that did not exhaust the policy count as one.
func Attempts(err error) int {
	var fetchErr *NetworkFetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Attempts
	}
	return 1
}

// Permanent marks an error as not worth retrying, e.g. a malformed response.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p *Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// ExponentialBackOff returns the policy's delay schedule, reset and unbounded in time.
// Attempts are bounded separately by Do.
func (p *Policy) ExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.RandomizationFactor = p.Jitter
	if b.RandomizationFactor < 0 {
		b.RandomizationFactor = 0
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, returns a Permanent error, the context ends, or MaxAttempts
// is reached. Exhaustion returns *NetworkFetchError wrapping the last error.
func (p *Policy) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	maxAttempts := p.maxAttempts()

	attempts := 0
	permanent := false
	err := backoff.RetryNotify(
		func() error {
			attempts++
			err := op(ctx)
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				permanent = true
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(p.ExponentialBackOff(), uint64(maxAttempts-1)), ctx),
		func(err error, delay time.Duration) {
			if p.Logger == nil {
				return
			}
			p.Logger.Sugar().Warnw("Retrying failed operation",
				"operation", operation,
				"attempt", attempts,
				"maxAttempts", maxAttempts,
				"delay", delay,
				"error", err,
			)
		},
	)
	if err == nil || permanent {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &NetworkFetchError{Operation: operation, Attempts: attempts, Err: err}
}
