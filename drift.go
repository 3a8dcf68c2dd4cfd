package costgate

import (
	"context"
	"log/slog"
	"time"
)

// AlarmBudgetAccountingDrift is the named alarm raised for anomalous
// divergence between the cache counter and the durable ledger.
const AlarmBudgetAccountingDrift = "BUDGET_ACCOUNTING_DRIFT"

// Drift monitor defaults, in micro-cents.
const (
	DefaultStaticDriftThreshold MicroCents = 100_000_000    // $1
	DefaultMaxDriftThreshold    MicroCents = 10_000_000_000 // $100
	DefaultDriftLagFactor                  = 5.0            // seconds
	DefaultDriftInterval                   = time.Minute
)

// DriftConfig configures the drift monitor.
type DriftConfig struct {
	// StaticThreshold is the floor: drift below it is always healthy.
	StaticThreshold MicroCents
	// LagFactorSeconds is the expected cache-to-durable propagation time.
	LagFactorSeconds float64
	// MaxThreshold caps the adaptive threshold regardless of throughput.
	MaxThreshold MicroCents
	// Interval between ticks.
	Interval time.Duration
}

// WithDefaults fills zero fields with the package defaults.
func (c DriftConfig) WithDefaults() DriftConfig {
	if c.StaticThreshold <= 0 {
		c.StaticThreshold = DefaultStaticDriftThreshold
	}
	if c.LagFactorSeconds <= 0 {
		c.LagFactorSeconds = DefaultDriftLagFactor
	}
	if c.MaxThreshold <= 0 {
		c.MaxThreshold = DefaultMaxDriftThreshold
	}
	if c.MaxThreshold < c.StaticThreshold {
		c.MaxThreshold = c.StaticThreshold
	}
	if c.Interval <= 0 {
		c.Interval = DefaultDriftInterval
	}
	return c
}

// ExpectedLagDrift is the divergence explainable purely by replication
// delay at the given throughput: rate/minute x lag seconds worth of calls,
// each at the average cost.
func ExpectedLagDrift(ratePerMinute, lagFactorSeconds float64, avgCost MicroCents) MicroCents {
	if ratePerMinute <= 0 || avgCost <= 0 {
		return 0
	}
	return MicroCents(ratePerMinute * (lagFactorSeconds / 60.0) * float64(avgCost))
}

// AdaptiveThreshold is static + expected lag drift, floored at the static
// threshold and capped at the hard maximum. Monotonically non-decreasing
// in both rate and average cost.
func AdaptiveThreshold(cfg DriftConfig, ratePerMinute float64, avgCost MicroCents) MicroCents {
	t := cfg.StaticThreshold + ExpectedLagDrift(ratePerMinute, cfg.LagFactorSeconds, avgCost)
	if t < cfg.StaticThreshold {
		t = cfg.StaticThreshold
	}
	if t > cfg.MaxThreshold {
		t = cfg.MaxThreshold
	}
	return t
}

// Monitor periodically compares each active tenant's durable ledger total
// against the cache counter. It is advisory: it reads both stores, raises
// alarms through the meter and the log, and never participates in the
// request path.
type Monitor struct {
	ledger Ledger
	stats  UsageStats
	cfg    DriftConfig
	meter  Meter
	logger *slog.Logger
}

// TickReport aggregates one monitor pass.
type TickReport struct {
	Checked  int
	Warnings int
	Alarms   int
	// Errors holds per-tenant read failures; one tenant failing does
	// not abort the tick for the others.
	Errors map[string]error
}

// NewMonitor creates a drift monitor. A nil meter or logger falls back to
// no-op metering and slog.Default().
func NewMonitor(ledger Ledger, stats UsageStats, cfg DriftConfig, meter Meter, logger *slog.Logger) *Monitor {
	if meter == nil {
		meter = noopMeter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		ledger: ledger,
		stats:  stats,
		cfg:    cfg.WithDefaults(),
		meter:  meter,
		logger: logger,
	}
}

// Run ticks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick checks every active tenant once and returns the aggregate result.
func (m *Monitor) Tick(ctx context.Context) TickReport {
	report := TickReport{Errors: make(map[string]error)}

	tenants, err := m.stats.ActiveTenants(ctx)
	if err != nil {
		m.logger.Error("drift tick: listing active tenants", "error", err)
		report.Errors[""] = err
		return report
	}

	for _, tenantID := range tenants {
		sample, err := m.sample(ctx, tenantID)
		if err != nil {
			report.Errors[tenantID] = err
			m.logger.Warn("drift tick: tenant read failed", "tenant", tenantID, "error", err)
			continue
		}
		report.Checked++

		event := m.classify(sample)
		m.meter.OnDrift(event)

		switch event.Level {
		case DriftExpectedLag:
			report.Warnings++
			m.logger.Warn("budget drift within expected replication lag",
				"tenant", tenantID,
				"drift_micro_cents", int64(event.Drift),
				"threshold_micro_cents", int64(event.Threshold),
				"rate_per_minute", sample.RatePerMinute,
			)
		case DriftAnomalous:
			report.Alarms++
			m.logger.Error("anomalous budget accounting drift",
				"alarm", AlarmBudgetAccountingDrift,
				"tenant", tenantID,
				"drift_micro_cents", int64(event.Drift),
				"adaptive_threshold_micro_cents", int64(event.Threshold),
				"durable_micro_usd", int64(sample.DurableTotal),
				"cache_micro_cents", int64(sample.CacheTotal),
				"rate_per_minute", sample.RatePerMinute,
				"avg_cost_micro_cents", int64(sample.AvgCostPerCall),
			)
		}
	}
	return report
}

func (m *Monitor) sample(ctx context.Context, tenantID string) (DriftSample, error) {
	durable, err := m.ledger.CommittedTotal(ctx, tenantID)
	if err != nil {
		return DriftSample{}, err
	}
	cached, err := m.ledger.CachedTotal(ctx, tenantID)
	if err != nil {
		return DriftSample{}, err
	}
	rate, avgCost, err := m.stats.Sample(ctx, tenantID)
	if err != nil {
		return DriftSample{}, err
	}
	return DriftSample{
		TenantID:       tenantID,
		DurableTotal:   durable,
		CacheTotal:     cached,
		RatePerMinute:  rate,
		AvgCostPerCall: avgCost,
	}, nil
}

func (m *Monitor) classify(s DriftSample) DriftEvent {
	drift := s.CacheTotal - s.DurableTotal.Cents()
	if drift < 0 {
		drift = -drift
	}
	threshold := AdaptiveThreshold(m.cfg, s.RatePerMinute, s.AvgCostPerCall)

	event := DriftEvent{Sample: s, Drift: drift, Threshold: threshold}
	switch {
	case drift <= m.cfg.StaticThreshold:
		event.Level = DriftHealthy
	case drift <= threshold:
		event.Level = DriftExpectedLag
	default:
		event.Level = DriftAnomalous
		event.Alarm = AlarmBudgetAccountingDrift
	}
	return event
}

// noopMeter backs nil meters so callers never need nil checks.
type noopMeter struct{}

func (noopMeter) OnAcquire(AcquireEvent)   {}
func (noopMeter) OnReserve(ReserveEvent)   {}
func (noopMeter) OnFinalize(FinalizeEvent) {}
func (noopMeter) OnReject(RejectEvent)     {}
func (noopMeter) OnDrift(DriftEvent)       {}
