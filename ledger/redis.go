package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/costgate"
)

const (
	// finalizeDedupTTL bounds the idempotency window for retried
	// finalizations, matching the caller's at-least-once delivery.
	finalizeDedupTTL = 24 * time.Hour

	// cacheCounterTTL keeps tenant-month counters around a little past
	// the month boundary, then lets Redis reclaim them.
	cacheCounterTTL = 40 * 24 * time.Hour
)

// RedisLedger stores reservations as TTL-bound hashes and the fast spend
// mirror as per-tenant-month counters (micro-cents), both in Redis. The
// durable monthly total is delegated to a DurableStore, which remains the
// single source of truth for billing.
type RedisLedger struct {
	client  goredis.Cmdable
	durable costgate.DurableStore
	prefix  string
	ceiling costgate.MicroUSD
	ttl     time.Duration
	now     func() time.Time
}

var _ costgate.Ledger = (*RedisLedger)(nil)

// RedisOption configures a RedisLedger.
type RedisOption func(*RedisLedger)

// WithKeyPrefix sets the Redis key prefix (default "costgate:ledger:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLedger) { l.prefix = prefix }
}

// WithRedisCeiling sets the monthly ceiling (default $100,000).
func WithRedisCeiling(c costgate.MicroUSD) RedisOption {
	return func(l *RedisLedger) { l.ceiling = c }
}

// WithRedisTTL sets the reservation TTL.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(l *RedisLedger) { l.ttl = d }
}

// WithRedisClock overrides the clock, for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLedger) { l.now = now }
}

// NewRedis creates a Redis-fronted ledger over the given durable store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewRedis(client goredis.Cmdable, durable costgate.DurableStore, opts ...RedisOption) *RedisLedger {
	l := &RedisLedger{
		client:  client,
		durable: durable,
		prefix:  "costgate:ledger:",
		ceiling: costgate.DefaultCeilingMicroUSD,
		ttl:     costgate.DefaultReservationTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) reservationKey(id string) string {
	return l.prefix + "res:" + id
}

func (l *RedisLedger) finalizeKey(id string) string {
	return l.prefix + "fin:" + id
}

func (l *RedisLedger) cacheKey(tenantID, month string) string {
	return l.prefix + "cache:" + tenantID + ":" + month
}

// reserveScript stores the reservation hash and its TTL in one round trip.
// KEYS[1] = reservation key
// ARGV[1] = tenant id
// ARGV[2] = amount (micro-USD)
// ARGV[3] = created at (unix ms)
// ARGV[4] = ttl (milliseconds)
var reserveScript = goredis.NewScript(`
redis.call("HSET", KEYS[1], "tenant", ARGV[1], "amount", ARGV[2], "created_ms", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// Reserve checks the ceiling against the durable total and stores a
// TTL-bound reservation. The ceiling is soft: in-flight reservations are
// invisible to the check, by design.
func (l *RedisLedger) Reserve(ctx context.Context, tenantID string, amount costgate.MicroUSD) (costgate.Reservation, error) {
	if err := costgate.ValidateAmount("amount", amount, l.ceiling); err != nil {
		return costgate.Reservation{}, err
	}

	now := l.now()
	committed, err := l.durable.CommittedTotal(ctx, tenantID, costgate.MonthKey(now))
	if err != nil {
		return costgate.Reservation{}, fmt.Errorf("costgate/ledger: read committed total: %w", err)
	}
	if committed+amount > l.ceiling {
		return costgate.Reservation{}, &costgate.CeilingError{
			TenantID:  tenantID,
			Requested: amount,
			Committed: committed,
			Ceiling:   l.ceiling,
		}
	}

	res := costgate.Reservation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Amount:    amount,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	_, err = reserveScript.Run(ctx, l.client,
		[]string{l.reservationKey(res.ID)},
		tenantID, int64(amount), now.UnixMilli(), l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return costgate.Reservation{}, fmt.Errorf("costgate/ledger: reserve: %w", err)
	}
	return res, nil
}

// finalizeCacheScript applies the optimistic cache update exactly once per
// reservation id and releases the reservation key.
// KEYS[1] = finalize dedup key
// KEYS[2] = cache counter key
// KEYS[3] = reservation key
// ARGV[1] = actual cost (micro-cents)
// ARGV[2] = dedup ttl (seconds)
// ARGV[3] = cache ttl (seconds)
//
// Returns 1 when the cache update was applied, 0 on a duplicate.
var finalizeCacheScript = goredis.NewScript(`
local set = redis.call("SET", KEYS[1], "1", "NX", "EX", tonumber(ARGV[2]))
redis.call("DEL", KEYS[3])
if not set then
    return 0
end
redis.call("INCRBY", KEYS[2], tonumber(ARGV[1]))
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[3]))
return 1
`)

// Finalize commits the actual cost of a completed request. The cache
// counter is updated optimistically before the durable write; each side
// carries its own per-reservation dedup, so a retry after a partial
// failure completes whichever half is missing without double counting.
// A reservation whose TTL already fired finalizes normally: the ids in
// res, not the live Redis entry, drive both writes.
func (l *RedisLedger) Finalize(ctx context.Context, res costgate.Reservation, actual costgate.MicroUSD, mode costgate.AccountingMode) error {
	if err := costgate.ValidateAmount("actual", actual, l.ceiling); err != nil {
		return err
	}

	// BYOK-accounted calls never touch the platform ledger or its
	// cache; just release the reservation early.
	if mode != costgate.AccountingPlatform {
		if err := l.client.Del(ctx, l.reservationKey(res.ID)).Err(); err != nil {
			return fmt.Errorf("costgate/ledger: release reservation: %w", err)
		}
		return nil
	}

	month := costgate.MonthKey(l.now())

	_, err := finalizeCacheScript.Run(ctx, l.client,
		[]string{l.finalizeKey(res.ID), l.cacheKey(res.TenantID, month), l.reservationKey(res.ID)},
		int64(actual.Cents()),
		int64(finalizeDedupTTL.Seconds()),
		int64(cacheCounterTTL.Seconds()),
	).Result()
	if err != nil {
		return fmt.Errorf("costgate/ledger: finalize cache: %w", err)
	}

	// Always attempt the durable write; its own dedup keyed by the
	// reservation id makes the retry path exact.
	if _, err := l.durable.AddCommitted(ctx, res.TenantID, month, actual, res.ID); err != nil {
		return fmt.Errorf("costgate/ledger: finalize durable: %w", err)
	}
	return nil
}

// CommittedTotal reads the durable total for the current month.
func (l *RedisLedger) CommittedTotal(ctx context.Context, tenantID string) (costgate.MicroUSD, error) {
	total, err := l.durable.CommittedTotal(ctx, tenantID, costgate.MonthKey(l.now()))
	if err != nil {
		return 0, fmt.Errorf("costgate/ledger: read committed total: %w", err)
	}
	return total, nil
}

// CachedTotal reads the fast mirror for the current month, micro-cents.
func (l *RedisLedger) CachedTotal(ctx context.Context, tenantID string) (costgate.MicroCents, error) {
	val, err := l.client.Get(ctx, l.cacheKey(tenantID, costgate.MonthKey(l.now()))).Result()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("costgate/ledger: read cache counter: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("costgate/ledger: parse cache counter: %w", err)
	}
	return costgate.MicroCents(n), nil
}
