//go:build integration

package ledger_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/costgate"
	"github.com/ineyio/costgate/ledger"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestLedger(t *testing.T, client *goredis.Client, opts ...ledger.RedisOption) (*ledger.RedisLedger, *ledger.MemoryDurable) {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	durable := ledger.NewMemoryDurable()
	opts = append([]ledger.RedisOption{ledger.WithKeyPrefix(prefix)}, opts...)
	l := ledger.NewRedis(client, durable, opts...)
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return l, durable
}

func TestRedisLedger_ReserveFinalizeRoundTrip(t *testing.T) {
	client := newTestClient(t)
	books, _ := newTestLedger(t, client)
	ctx := context.Background()

	res, err := books.Reserve(ctx, "t1", 500_000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.TenantID != "t1" || res.Amount != 500_000 {
		t.Fatalf("reservation = %+v", res)
	}

	if err := books.Finalize(ctx, res, 320_000, costgate.AccountingPlatform); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	total, err := books.CommittedTotal(ctx, "t1")
	if err != nil {
		t.Fatalf("committed total: %v", err)
	}
	if total != 320_000 {
		t.Fatalf("committed = %d, want 320000", total)
	}

	cached, err := books.CachedTotal(ctx, "t1")
	if err != nil {
		t.Fatalf("cached total: %v", err)
	}
	if cached != 32_000_000 {
		t.Fatalf("cached = %d micro-cents, want 32000000", cached)
	}
}

func TestRedisLedger_FinalizeIdempotent(t *testing.T) {
	client := newTestClient(t)
	books, _ := newTestLedger(t, client)
	ctx := context.Background()

	res, err := books.Reserve(ctx, "t1", 1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := books.Finalize(ctx, res, 700, costgate.AccountingPlatform); err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
	}

	total, err := books.CommittedTotal(ctx, "t1")
	if err != nil {
		t.Fatalf("committed total: %v", err)
	}
	if total != 700 {
		t.Fatalf("committed = %d, want 700 after retries", total)
	}

	cached, err := books.CachedTotal(ctx, "t1")
	if err != nil {
		t.Fatalf("cached total: %v", err)
	}
	if cached != 70_000 {
		t.Fatalf("cached = %d, want 70000 after retries", cached)
	}
}

func TestRedisLedger_CeilingAgainstDurableTotal(t *testing.T) {
	client := newTestClient(t)
	books, _ := newTestLedger(t, client, ledger.WithRedisCeiling(100_000_000))
	ctx := context.Background()

	res, err := books.Reserve(ctx, "t1", 90_000_000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := books.Finalize(ctx, res, 90_000_000, costgate.AccountingPlatform); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	_, err = books.Reserve(ctx, "t1", 20_000_000)
	if !errors.Is(err, costgate.ErrCeilingExceeded) {
		t.Fatalf("want ErrCeilingExceeded, got %v", err)
	}

	if _, err := books.Reserve(ctx, "t1", 10_000_000); err != nil {
		t.Fatalf("reserve up to the ceiling: %v", err)
	}
}

func TestRedisLedger_ReservationTTLExpires(t *testing.T) {
	client := newTestClient(t)
	books, _ := newTestLedger(t, client, ledger.WithRedisTTL(200*time.Millisecond))
	ctx := context.Background()

	res, err := books.Reserve(ctx, "t1", 1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	// The Redis entry is gone, but a late settlement still lands once.
	if err := books.Finalize(ctx, res, 1000, costgate.AccountingPlatform); err != nil {
		t.Fatalf("late finalize: %v", err)
	}
	if err := books.Finalize(ctx, res, 1000, costgate.AccountingPlatform); err != nil {
		t.Fatalf("retried late finalize: %v", err)
	}

	total, err := books.CommittedTotal(ctx, "t1")
	if err != nil {
		t.Fatalf("committed total: %v", err)
	}
	if total != 1000 {
		t.Fatalf("committed = %d, want 1000", total)
	}
}

func TestRedisLedger_BYOKReleasesWithoutWriting(t *testing.T) {
	client := newTestClient(t)
	books, durable := newTestLedger(t, client)
	ctx := context.Background()

	res, err := books.Reserve(ctx, "t1", 1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := books.Finalize(ctx, res, 999, costgate.AccountingBYOK); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	total, err := durable.CommittedTotal(ctx, "t1", costgate.MonthKey(time.Now()))
	if err != nil {
		t.Fatalf("committed total: %v", err)
	}
	if total != 0 {
		t.Fatalf("committed = %d, want 0 for BYOK", total)
	}

	cached, err := books.CachedTotal(ctx, "t1")
	if err != nil {
		t.Fatalf("cached total: %v", err)
	}
	if cached != 0 {
		t.Fatalf("cached = %d, want 0 for BYOK", cached)
	}
}
