package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("server hiccup")

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := &Policy{MaxAttempts: 3, Sleep: noSleep}

	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := &Policy{
		MaxAttempts: 5,
		Sleep:       noSleep,
		Classify: func(err error, attempt int) Decision {
			return After(time.Millisecond)
		},
	}

	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoFailFast(t *testing.T) {
	calls := 0
	p := &Policy{
		MaxAttempts: 5,
		Sleep:       noSleep,
		Classify: func(err error, attempt int) Decision {
			return FailFast()
		},
	}

	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestDoExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	p := &Policy{
		MaxAttempts: 3,
		Sleep:       noSleep,
		Classify: func(err error, attempt int) Decision {
			return After(Backoff(time.Second, 0, 0, attempt))
		},
		OnRetry: func(err error, attempt int, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		return errTransient
	})

	assert.Equal(t, 3, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errTransient)

	// Exponential: 1s then 2s; no sleep scheduled after the final attempt.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(2*time.Second, 0, 0, 1))
	assert.Equal(t, 4*time.Second, Backoff(2*time.Second, 0, 0, 2))
	assert.Equal(t, 8*time.Second, Backoff(2*time.Second, 0, 0, 3))
	assert.Equal(t, 5*time.Second, Backoff(2*time.Second, 5*time.Second, 0, 3))

	withJitter := Backoff(time.Second, 0, time.Second, 1)
	assert.GreaterOrEqual(t, withJitter, time.Second)
	assert.Less(t, withJitter, 2*time.Second)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Policy{
		MaxAttempts: 3,
		Classify: func(err error, attempt int) Decision {
			return After(time.Minute)
		},
	}

	_, err := p.Do(ctx, func(ctx context.Context) error {
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
}
