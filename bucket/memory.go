// Package bucket provides RateLimiter implementations for the platform's
// shared token bucket: an in-memory bucket for tests and single-instance
// deployments, and a Redis-backed bucket whose refill-and-consume step is
// a single atomic Lua script, safe for multi-instance deployments.
package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/costgate"
)

// MemoryLimiter is an in-process token bucket. It runs the same
// refill-then-consume algorithm as the Redis limiter, under one mutex.
type MemoryLimiter struct {
	cfg   costgate.BucketConfig
	meter costgate.Meter
	now   func() time.Time

	mu          sync.Mutex
	tokens      float64
	lastRefill  time.Time
	initialized bool
}

var _ costgate.RateLimiter = (*MemoryLimiter)(nil)

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithMemoryMeter sets the meter.
func WithMemoryMeter(m costgate.Meter) MemoryOption {
	return func(l *MemoryLimiter) { l.meter = m }
}

// WithMemoryClock overrides the clock, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemory creates an in-memory limiter.
func NewMemory(cfg costgate.BucketConfig, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg: cfg.WithDefaults(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire attempts to consume one token without blocking.
func (l *MemoryLimiter) TryAcquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	acquired, tokens := l.refillAndConsume()
	l.mu.Unlock()

	l.emit(costgate.AcquireEvent{Acquired: acquired, Tokens: tokens})
	return acquired, nil
}

// refillAndConsume advances the refill bookkeeping and consumes one token
// when available. Callers hold the mutex; refill and consume are observed
// together or not at all.
func (l *MemoryLimiter) refillAndConsume() (bool, float64) {
	now := l.now()
	if !l.initialized {
		l.tokens = l.cfg.MaxTokens
		l.lastRefill = now
		l.initialized = true
	}

	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	l.tokens += elapsed * l.cfg.RefillRate
	if l.tokens > l.cfg.MaxTokens {
		l.tokens = l.cfg.MaxTokens
	}
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return true, l.tokens
	}
	return false, l.tokens
}

// AcquireWait polls TryAcquire until success or until maxWait elapses.
func (l *MemoryLimiter) AcquireWait(ctx context.Context, maxWait time.Duration) error {
	return waitAcquire(ctx, l.cfg, maxWait, l.meter, l.TryAcquire)
}

// Status reads the current bucket level without consuming.
func (l *MemoryLimiter) Status(_ context.Context) (costgate.BucketStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokens := l.cfg.MaxTokens
	if l.initialized {
		tokens = l.tokens + l.now().Sub(l.lastRefill).Seconds()*l.cfg.RefillRate
		if tokens > l.cfg.MaxTokens {
			tokens = l.cfg.MaxTokens
		}
	}
	return costgate.BucketStatus{Tokens: tokens, MaxTokens: l.cfg.MaxTokens}, nil
}

func (l *MemoryLimiter) emit(e costgate.AcquireEvent) {
	if l.meter != nil {
		l.meter.OnAcquire(e)
	}
}

// waitAcquire is the shared poll loop behind AcquireWait. Expiry converts
// to a typed ExhaustedError, never a silent success.
func waitAcquire(ctx context.Context, cfg costgate.BucketConfig, maxWait time.Duration, meter costgate.Meter, try func(context.Context) (bool, error)) error {
	if maxWait <= 0 {
		maxWait = cfg.MaxWait
	}
	start := time.Now()
	deadline := start.Add(maxWait)

	for {
		acquired, err := try(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if !time.Now().Add(cfg.PollInterval).Before(deadline) {
			waited := time.Since(start)
			if meter != nil {
				meter.OnAcquire(costgate.AcquireEvent{Waited: waited, Exhausted: true, Tokens: -1})
			}
			return &costgate.ExhaustedError{Waited: waited}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
