package costgate

import (
	"context"
	"time"
)

// Token bucket defaults.
const (
	DefaultMaxTokens    = 50.0
	DefaultRefillRate   = 50.0 // tokens per second
	DefaultPollInterval = 20 * time.Millisecond
	DefaultMaxWait      = 2 * time.Second
)

// RateLimiter is the platform-wide request-rate limiter. All gateway
// instances share one bucket; implementations must make the
// refill-and-consume step a single atomic operation against the shared
// store with no read-modify-write race window.
type RateLimiter interface {
	// TryAcquire attempts to consume one token without blocking.
	// The bool result distinguishes "no token right now" from a store
	// error; neither is ErrBucketExhausted.
	TryAcquire(ctx context.Context) (bool, error)

	// AcquireWait polls TryAcquire until success or until maxWait
	// elapses, in which case it returns an ExhaustedError. A
	// non-positive maxWait means DefaultMaxWait.
	AcquireWait(ctx context.Context, maxWait time.Duration) error

	// Status reads the current bucket level for observability.
	Status(ctx context.Context) (BucketStatus, error)
}

// BucketStatus is a point-in-time view of the bucket.
type BucketStatus struct {
	Tokens    float64
	MaxTokens float64
}

// BucketConfig configures a token bucket.
type BucketConfig struct {
	MaxTokens    float64
	RefillRate   float64 // tokens per second
	PollInterval time.Duration
	MaxWait      time.Duration
}

// WithDefaults fills zero fields with the package defaults.
func (c BucketConfig) WithDefaults() BucketConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.RefillRate <= 0 {
		c.RefillRate = DefaultRefillRate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}
