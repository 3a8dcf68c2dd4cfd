package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/costgate"
)

// RedisLimiter is a Redis-backed token bucket shared by every gateway
// instance. State lives in one hash under a fixed key; the only writer is
// the acquire script below.
type RedisLimiter struct {
	client goredis.Cmdable
	key    string
	cfg    costgate.BucketConfig
	meter  costgate.Meter
}

var _ costgate.RateLimiter = (*RedisLimiter)(nil)

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisKey sets the bucket key (default "costgate:bucket").
func WithRedisKey(key string) RedisOption {
	return func(l *RedisLimiter) { l.key = key }
}

// WithRedisMeter sets the meter.
func WithRedisMeter(m costgate.Meter) RedisOption {
	return func(l *RedisLimiter) { l.meter = m }
}

// NewRedis creates a Redis-backed limiter.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewRedis(client goredis.Cmdable, cfg costgate.BucketConfig, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		key:    "costgate:bucket",
		cfg:    cfg.WithDefaults(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// acquireScript is the atomic refill-and-consume operation.
// KEYS[1] = bucket hash key
// ARGV[1] = max_tokens
// ARGV[2] = refill_rate (tokens per second)
// ARGV[3] = now (unix milliseconds)
//
// Returns {acquired (0/1), tokens-after (string)}. Refill bookkeeping
// advances even when no token is available, so no two callers can observe
// and consume the same token.
var acquireScript = goredis.NewScript(`
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local vals = redis.call("HMGET", key, "tokens", "last_refill_ms")
local tokens = tonumber(vals[1])
local last_ms = tonumber(vals[2])
if not tokens or not last_ms then
    tokens = max_tokens
    last_ms = now_ms
end

local elapsed = (now_ms - last_ms) / 1000
if elapsed < 0 then
    elapsed = 0
end
tokens = tokens + elapsed * refill_rate
if tokens > max_tokens then
    tokens = max_tokens
end

local acquired = 0
if tokens >= 1 then
    tokens = tokens - 1
    acquired = 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_refill_ms", tostring(now_ms))
return {acquired, tostring(tokens)}
`)

// TryAcquire attempts to consume one token in a single round trip.
func (l *RedisLimiter) TryAcquire(ctx context.Context) (bool, error) {
	nowMs := time.Now().UnixMilli()

	result, err := acquireScript.Run(ctx, l.client,
		[]string{l.key},
		l.cfg.MaxTokens, l.cfg.RefillRate, nowMs,
	).Slice()
	if err != nil {
		return false, fmt.Errorf("costgate/bucket: acquire: %w", err)
	}
	if len(result) != 2 {
		return false, fmt.Errorf("costgate/bucket: unexpected acquire result: %v", result)
	}

	acquired, _ := result[0].(int64)
	tokens := -1.0
	if s, ok := result[1].(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			tokens = f
		}
	}

	l.emit(costgate.AcquireEvent{Acquired: acquired == 1, Tokens: tokens})
	return acquired == 1, nil
}

// AcquireWait polls TryAcquire until success or until maxWait elapses.
func (l *RedisLimiter) AcquireWait(ctx context.Context, maxWait time.Duration) error {
	return waitAcquire(ctx, l.cfg, maxWait, l.meter, l.TryAcquire)
}

// Status reads the bucket level without consuming or writing; the lazy
// refill is applied client-side for the gauge only.
func (l *RedisLimiter) Status(ctx context.Context) (costgate.BucketStatus, error) {
	vals, err := l.client.HMGet(ctx, l.key, "tokens", "last_refill_ms").Result()
	if err != nil {
		return costgate.BucketStatus{}, fmt.Errorf("costgate/bucket: status: %w", err)
	}

	status := costgate.BucketStatus{Tokens: l.cfg.MaxTokens, MaxTokens: l.cfg.MaxTokens}
	if vals[0] != nil && vals[1] != nil {
		tokens, _ := strconv.ParseFloat(vals[0].(string), 64)
		lastMs, _ := strconv.ParseInt(vals[1].(string), 10, 64)

		elapsed := float64(time.Now().UnixMilli()-lastMs) / 1000
		if elapsed < 0 {
			elapsed = 0
		}
		tokens += elapsed * l.cfg.RefillRate
		if tokens > l.cfg.MaxTokens {
			tokens = l.cfg.MaxTokens
		}
		status.Tokens = tokens
	}
	return status, nil
}

func (l *RedisLimiter) emit(e costgate.AcquireEvent) {
	if l.meter != nil {
		l.meter.OnAcquire(e)
	}
}
