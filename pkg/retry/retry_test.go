package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastPolicy(t *testing.T, attempts int) *Policy {
	return &Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		Jitter:         0.5,
		Logger:         zaptest.NewLogger(t),
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	p := fastPolicy(t, 5)
	calls := 0
	err := p.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	p := fastPolicy(t, 3)
	cause := errors.New("timeout")
	calls := 0
	err := p.Do(context.Background(), "eth_getLogs", func(ctx context.Context) error {
		calls++
		return cause
	})

	var fetchErr *NetworkFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, "eth_getLogs", fetchErr.Operation)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, Attempts(err))
	assert.Equal(t, 1, Attempts(cause))
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	p := fastPolicy(t, 5)
	cause := errors.New("malformed response")
	calls := 0
	err := p.Do(context.Background(), "query", func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	})
	require.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCancelled(t *testing.T) {
	p := fastPolicy(t, 5)
	p.InitialBackoff = time.Hour
	p.MaxBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, "query", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	p := &Policy{}
	calls := 0
	err := p.Do(context.Background(), "query", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_WrappedPermanentStopsRetrying(t *testing.T) {
	p := fastPolicy(t, 5)
	cause := errors.New("bad request")
	calls := 0
	err := p.Do(context.Background(), "query", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return fmt.Errorf("page 3: %w", Permanent(cause))
	})
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, Attempts(err))
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := fastPolicy(t, 3).Do(ctx, "query", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestExponentialBackOff(t *testing.T) {
	p := &Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	b := p.ExponentialBackOff()
	assert.Equal(t, 100*time.Millisecond, b.InitialInterval)
	assert.Equal(t, time.Second, b.MaxInterval)
	assert.Equal(t, 0.0, b.RandomizationFactor)
	assert.Zero(t, b.MaxElapsedTime)

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for _, want := range expected {
		assert.Equal(t, want, b.NextBackOff())
	}

	fixed := (&Policy{InitialBackoff: 250 * time.Millisecond, Multiplier: 0.5}).ExponentialBackOff()
	for i := 0; i < 7; i++ {
		assert.Equal(t, 250*time.Millisecond, fixed.NextBackOff())
	}
}

func TestExponentialBackOff_JitterBounds(t *testing.T) {
	p := &Policy{InitialBackoff: time.Second, MaxBackoff: time.Second, Multiplier: 1, Jitter: 0.2}
	b := p.ExponentialBackOff()
	assert.Equal(t, 0.2, b.RandomizationFactor)
	for i := 0; i < 100; i++ {
		d := b.NextBackOff()
		require.GreaterOrEqual(t, d, 800*time.Millisecond)
		require.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}
