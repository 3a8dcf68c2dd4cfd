package bucket_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/costgate"
	"github.com/ineyio/costgate/bucket"
)

// fakeClock is a hand-advanced clock shared with the limiter under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLimiter_BurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	limiter := bucket.NewMemory(costgate.BucketConfig{
		MaxTokens:  50,
		RefillRate: 50,
	}, bucket.WithMemoryClock(clock.Now))
	ctx := context.Background()

	// 60 rapid attempts against a 50-token bucket with no time passing:
	// exactly the burst capacity succeeds.
	granted := 0
	for i := 0; i < 60; i++ {
		ok, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		if ok {
			granted++
		}
	}
	assert.Equal(t, 50, granted)

	// Half a second at 50 tokens/s refills 25.
	clock.Advance(500 * time.Millisecond)
	granted = 0
	for i := 0; i < 60; i++ {
		ok, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		if ok {
			granted++
		}
	}
	assert.Equal(t, 25, granted)
}

func TestMemoryLimiter_RefillCappedAtMax(t *testing.T) {
	clock := newFakeClock()
	limiter := bucket.NewMemory(costgate.BucketConfig{
		MaxTokens:  10,
		RefillRate: 50,
	}, bucket.WithMemoryClock(clock.Now))
	ctx := context.Background()

	ok, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// An hour idle must not bank more than the burst capacity.
	clock.Advance(time.Hour)
	granted := 0
	for i := 0; i < 30; i++ {
		ok, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		if ok {
			granted++
		}
	}
	assert.Equal(t, 10, granted)
}

func TestMemoryLimiter_ConcurrentNeverOversells(t *testing.T) {
	clock := newFakeClock()
	limiter := bucket.NewMemory(costgate.BucketConfig{
		MaxTokens:  10,
		RefillRate: 0.0001, // no meaningful refill during the test
	}, bucket.WithMemoryClock(clock.Now))

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := limiter.TryAcquire(context.Background())
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), granted.Load())
}

func TestMemoryLimiter_AcquireWaitExhaustion(t *testing.T) {
	limiter := bucket.NewMemory(costgate.BucketConfig{
		MaxTokens:    1,
		RefillRate:   0.0001,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, limiter.AcquireWait(ctx, 50*time.Millisecond))

	err := limiter.AcquireWait(ctx, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, costgate.ErrBucketExhausted)

	var exhausted *costgate.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Greater(t, exhausted.Waited, time.Duration(0))
}

func TestMemoryLimiter_AcquireWaitHonorsContext(t *testing.T) {
	limiter := bucket.NewMemory(costgate.BucketConfig{
		MaxTokens:    1,
		RefillRate:   0.0001,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, limiter.AcquireWait(ctx, time.Second))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := limiter.AcquireWait(cancelled, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLimiter_StatusDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	limiter := bucket.NewMemory(costgate.BucketConfig{
		MaxTokens:  50,
		RefillRate: 50,
	}, bucket.WithMemoryClock(clock.Now))
	ctx := context.Background()

	status, err := limiter.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, status.Tokens, "fresh bucket starts full")
	assert.Equal(t, 50.0, status.MaxTokens)

	ok, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		status, err = limiter.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 49.0, status.Tokens, "status reads do not consume")
	}
}
