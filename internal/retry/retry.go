package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Decision is what the classifier returns for a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

func FailFast() Decision { return Decision{} }

func After(delay time.Duration) Decision { return Decision{Retry: true, Delay: delay} }

// Classifier maps an error and the attempt number (1-based) to a decision.
type Classifier func(err error, attempt int) Decision

// ExhaustedError marks a retryable failure that ran out of attempts.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Policy is a single configurable retry loop, applied uniformly instead of
// ad hoc backoff at every call site.
type Policy struct {
	MaxAttempts int
	Classify    Classifier
	// Sleep is injectable for tests; nil means context-aware time.After.
	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(err error, attempt int, delay time.Duration)
}

// Do runs op until it succeeds, the classifier says fail-fast, or attempts
// run out. It returns the attempts used alongside the final error.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}

		decision := Decision{}
		if p.Classify != nil {
			decision = p.Classify(err, attempt)
		}
		if !decision.Retry {
			return attempt, err
		}
		if attempt == maxAttempts {
			return attempt, &ExhaustedError{Attempts: attempt, Err: err}
		}

		if p.OnRetry != nil {
			p.OnRetry(err, attempt, decision.Delay)
		}
		if sleepErr := sleep(ctx, decision.Delay); sleepErr != nil {
			return attempt, sleepErr
		}
	}

	return maxAttempts, err
}

// Backoff computes base × 2^(attempt−1) plus jitter, capped at max.
func Backoff(base, max, jitterRange time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt-1)
	if max > 0 && delay > max {
		delay = max
	}
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(int64(jitterRange)))
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
