// Package meter provides Meter implementations: structured logging via
// slog, Prometheus counters/gauges, and a no-op.
package meter

import (
	"log/slog"

	"github.com/ineyio/costgate"
)

// LogMeter logs admission and accounting events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ costgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAcquire(e costgate.AcquireEvent) {
	if e.Exhausted {
		m.Logger.Warn("bucket_exhausted", "waited_ms", e.Waited.Milliseconds())
		return
	}
	// Successful acquires are too frequent for info level.
	m.Logger.Debug("bucket_acquire", "acquired", e.Acquired, "tokens", e.Tokens)
}

func (m *LogMeter) OnReserve(e costgate.ReserveEvent) {
	switch {
	case e.Denied:
		m.Logger.Warn("reserve_denied",
			"tenant", e.TenantID,
			"amount_micro_usd", int64(e.Amount),
			"error", e.Err,
		)
	case e.Err != nil:
		m.Logger.Error("reserve_failed",
			"tenant", e.TenantID,
			"amount_micro_usd", int64(e.Amount),
			"error", e.Err,
		)
	default:
		m.Logger.Info("reserve",
			"tenant", e.TenantID,
			"amount_micro_usd", int64(e.Amount),
		)
	}
}

func (m *LogMeter) OnFinalize(e costgate.FinalizeEvent) {
	m.Logger.Info("finalize",
		"tenant", e.TenantID,
		"reservation", e.ReservationID,
		"actual_micro_usd", int64(e.Actual),
		"mode", string(e.Mode),
		"applied", e.Applied,
	)
}

func (m *LogMeter) OnReject(e costgate.RejectEvent) {
	m.Logger.Info("ensemble_rejected",
		"tenant", e.TenantID,
		"tier", e.Tier,
		"strategy", string(e.Strategy),
		"code", e.Code,
	)
}

func (m *LogMeter) OnDrift(e costgate.DriftEvent) {
	// The monitor logs warnings/alarms itself with full context; the
	// meter only records the healthy baseline at debug level.
	if e.Level == costgate.DriftHealthy {
		m.Logger.Debug("drift_healthy",
			"tenant", e.Sample.TenantID,
			"drift_micro_cents", int64(e.Drift),
		)
	}
}
