package costgate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cg "github.com/ineyio/costgate"
	"github.com/ineyio/costgate/bucket"
	"github.com/ineyio/costgate/ledger"
)

// scriptedInvoker returns canned outcomes, or one outcome per ensemble
// member when none are scripted.
type scriptedInvoker struct {
	outcomes []cg.Outcome
	err      error
	calls    int
	lastInv  cg.Invocation
}

func (i *scriptedInvoker) Invoke(_ context.Context, inv cg.Invocation) ([]cg.Outcome, error) {
	i.calls++
	i.lastInv = inv
	if i.err != nil {
		return nil, i.err
	}
	if i.outcomes != nil {
		return i.outcomes, nil
	}
	outcomes := make([]cg.Outcome, inv.Decision.N)
	for j := range outcomes {
		outcomes[j] = cg.Outcome{Succeeded: true, CostMicro: 100_000, Accounting: cg.AccountingPlatform}
	}
	return outcomes, nil
}

type staticSigner struct{}

func (staticSigner) Sign(map[string]any) (string, error) { return "signed-token", nil }

func testConfig() cg.Config {
	return cg.Config{
		Tiers: map[string]cg.TierConfig{
			"free": {Allowed: false},
			"pro":  {Allowed: true, MaxN: 3, MaxQuorum: 3},
		},
		Estimates: cg.CostTable{Default: 250_000},
	}
}

func tierByPrefix(cfg cg.Config) cg.TierResolver {
	return cg.TierResolverFunc(func(_ context.Context, tenantID string) (cg.Tier, error) {
		switch tenantID {
		case "tenant-free":
			return cfg.Tier("free"), nil
		default:
			return cfg.Tier("pro"), nil
		}
	})
}

func newTestGateway(t *testing.T, cfg cg.Config, books cg.Ledger, invoker cg.Invoker) *cg.Gateway {
	t.Helper()
	limiter := bucket.NewMemory(cg.BucketConfig{})
	gw, err := cg.NewGateway(cfg, tierByPrefix(cfg), limiter, books, invoker, staticSigner{})
	require.NoError(t, err)
	return gw
}

func TestHandle_FreeTierRejectedBeforeLedger(t *testing.T) {
	books := ledger.NewMemory()
	invoker := &scriptedInvoker{}
	gw := newTestGateway(t, testConfig(), books, invoker)

	n := 5
	_, err := gw.Handle(context.Background(), "tenant-free", cg.EnsembleRequest{
		Strategy: cg.StrategyBestOfN,
		N:        &n,
	})
	require.Error(t, err)

	var rej *cg.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, cg.RejectCodeEnsembleNotAvailable, rej.Code)
	assert.Zero(t, invoker.calls, "rejected requests never reach the downstream")

	total, err := books.CommittedTotal(context.Background(), "tenant-free")
	require.NoError(t, err)
	assert.Zero(t, total, "rejection on tier grounds must never touch the ledger")
}

func TestHandle_ProTierClampedAndSettled(t *testing.T) {
	books := ledger.NewMemory()
	invoker := &scriptedInvoker{}
	gw := newTestGateway(t, testConfig(), books, invoker)

	n := 5
	result, err := gw.Handle(context.Background(), "tenant-pro", cg.EnsembleRequest{
		Strategy: cg.StrategyBestOfN,
		N:        &n,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Decision.N)
	assert.Equal(t, 3, result.Decision.BudgetMultiplier)
	assert.Equal(t, cg.MicroUSD(750_000), result.Reservation.Amount, "3 calls at the $0.25 estimate")
	assert.Equal(t, "signed-token", result.TrustToken)
	assert.Equal(t, "signed-token", invoker.lastInv.TrustToken)
	assert.Equal(t, cg.MicroUSD(300_000), result.CommittedMicro)

	total, err := books.CommittedTotal(context.Background(), "tenant-pro")
	require.NoError(t, err)
	assert.Equal(t, cg.MicroUSD(300_000), total, "only actual cost lands in the ledger")

	cached, err := books.CachedTotal(context.Background(), "tenant-pro")
	require.NoError(t, err)
	assert.Equal(t, cg.MicroCents(30_000_000), cached, "cache mirror carries the x100 unit")
}

func TestHandle_PartialFailureCommitsOnlySuccesses(t *testing.T) {
	books := ledger.NewMemory()
	invoker := &scriptedInvoker{outcomes: []cg.Outcome{
		{Succeeded: true, CostMicro: 100, Accounting: cg.AccountingPlatform},
		{Succeeded: false, CostMicro: 999, Accounting: cg.AccountingPlatform},
		{Succeeded: true, CostMicro: 50, Accounting: cg.AccountingBYOK},
	}}
	gw := newTestGateway(t, testConfig(), books, invoker)

	result, err := gw.Handle(context.Background(), "tenant-pro", cg.EnsembleRequest{Strategy: cg.StrategyFallback})
	require.NoError(t, err)
	assert.Equal(t, cg.MicroUSD(150), result.CommittedMicro, "total includes BYOK")
	assert.Equal(t, cg.MicroUSD(100), result.PlatformMicro)

	total, err := books.CommittedTotal(context.Background(), "tenant-pro")
	require.NoError(t, err)
	assert.Equal(t, cg.MicroUSD(100), total, "BYOK cost never reaches the platform ledger")
}

func TestHandle_CeilingViolation(t *testing.T) {
	// $100,000 ceiling, $99,999.99 already committed, then two more cents.
	books := ledger.NewMemory()
	ctx := context.Background()

	res, err := books.Reserve(ctx, "tenant-pro", 99_999_990_000)
	require.NoError(t, err)
	require.NoError(t, books.Finalize(ctx, res, 99_999_990_000, cg.AccountingPlatform))

	invoker := &scriptedInvoker{}
	cfg := testConfig()
	cfg.Estimates = cg.CostTable{Default: 10_000} // one cent per call
	gw := newTestGateway(t, cfg, books, invoker)

	_, err = gw.Handle(ctx, "tenant-pro", cg.EnsembleRequest{Strategy: cg.StrategyBestOfN})
	require.Error(t, err)
	assert.ErrorIs(t, err, cg.ErrCeilingExceeded)
	assert.True(t, cg.IsRejection(err))

	var cerr *cg.CeilingError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cg.MicroUSD(20_000), cerr.Requested)
	assert.Zero(t, invoker.calls)
}

func TestHandle_DownstreamFailureSettlesZero(t *testing.T) {
	books := ledger.NewMemory()
	boom := errors.New("pool unavailable")
	invoker := &scriptedInvoker{err: boom}
	gw := newTestGateway(t, testConfig(), books, invoker)

	_, err := gw.Handle(context.Background(), "tenant-pro", cg.EnsembleRequest{Strategy: cg.StrategyBestOfN})
	require.ErrorIs(t, err, boom)
	assert.False(t, cg.IsRejection(err), "store/downstream failures are not business rejections")

	total, err := books.CommittedTotal(context.Background(), "tenant-pro")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestHandle_BucketExhaustionIsRetryLater(t *testing.T) {
	books := ledger.NewMemory()
	invoker := &scriptedInvoker{}

	cfg := testConfig()
	limiter := bucket.NewMemory(cg.BucketConfig{
		MaxTokens:  1,
		RefillRate: 0.001, // effectively no refill within the test
	})
	gw, err := cg.NewGateway(cfg, tierByPrefix(cfg), limiter, books, invoker, staticSigner{},
		cg.WithMaxWait(30*time.Millisecond),
	)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = gw.Handle(ctx, "tenant-pro", cg.EnsembleRequest{Strategy: cg.StrategyBestOfN})
	require.NoError(t, err, "first request drains the single token")

	_, err = gw.Handle(ctx, "tenant-pro", cg.EnsembleRequest{Strategy: cg.StrategyBestOfN})
	require.Error(t, err)
	assert.ErrorIs(t, err, cg.ErrBucketExhausted)
	assert.True(t, cg.IsRetryLater(err))
	assert.False(t, cg.IsRejection(err))
	assert.Equal(t, 1, invoker.calls)
}

func TestReport_IdempotentUnderRetry(t *testing.T) {
	books := ledger.NewMemory()
	invoker := &scriptedInvoker{}
	gw := newTestGateway(t, testConfig(), books, invoker)
	ctx := context.Background()

	result, err := gw.Handle(ctx, "tenant-pro", cg.EnsembleRequest{Strategy: cg.StrategyBestOfN})
	require.NoError(t, err)

	// At-least-once delivery: the same settlement arrives again.
	require.NoError(t, gw.Report(ctx, result.Reservation, result.Outcomes))
	require.NoError(t, gw.Report(ctx, result.Reservation, result.Outcomes))

	total, err := books.CommittedTotal(ctx, "tenant-pro")
	require.NoError(t, err)
	assert.Equal(t, result.PlatformMicro, total, "retries never double-charge")
}

func TestGateway_HealthSnapshot(t *testing.T) {
	books := ledger.NewMemory()
	gw := newTestGateway(t, testConfig(), books, &scriptedInvoker{})

	_, err := gw.Handle(context.Background(), "tenant-pro", cg.EnsembleRequest{Strategy: cg.StrategyBestOfN})
	require.NoError(t, err)

	health := gw.Health()
	assert.Equal(t, cg.HealthHealthy, health[cg.DepLedger])
	assert.Equal(t, cg.HealthHealthy, health[cg.DepRateLimiter])
	assert.Equal(t, cg.HealthHealthy, health[cg.DepDownstream])
}
