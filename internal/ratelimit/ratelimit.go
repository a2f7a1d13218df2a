package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces out sequential actions with a randomized delay. The jitter
// keeps the request cadence from looking machine-generated to the remote
// server's defense heuristics.
type Pacer interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

type JitterPacer struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewJitterPacer(minDelay, maxDelay time.Duration) *JitterPacer {
	return &JitterPacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (p *JitterPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.lastAction)
	delay := p.calculateDelay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *JitterPacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.minDelay = min
	p.maxDelay = max
}

func (p *JitterPacer) calculateDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}

	delta := p.maxDelay - p.minDelay
	return p.minDelay + time.Duration(rand.Int63n(int64(delta)))
}
