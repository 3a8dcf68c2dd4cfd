package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ineyio/costgate"
)

// PromMeter exports admission and accounting events as Prometheus metrics.
type PromMeter struct {
	acquires     *prometheus.CounterVec
	exhaustions  prometheus.Counter
	waitSeconds  prometheus.Histogram
	tokens       prometheus.Gauge
	reservations *prometheus.CounterVec
	finalized    *prometheus.CounterVec
	committed    *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	drift        *prometheus.CounterVec
}

var _ costgate.Meter = (*PromMeter)(nil)

// NewPromMeter registers the gateway metrics with reg.
// A nil reg uses the default registerer.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromMeter{
		acquires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "costgate_bucket_acquires_total",
			Help: "Token bucket acquire attempts by result.",
		}, []string{"result"}),
		exhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "costgate_bucket_exhaustions_total",
			Help: "AcquireWait calls that gave up after max wait.",
		}),
		waitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "costgate_bucket_wait_seconds",
			Help:    "Time spent waiting for a token before exhaustion.",
			Buckets: prometheus.DefBuckets,
		}),
		tokens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "costgate_bucket_tokens",
			Help: "Token bucket level after the last observed attempt.",
		}),
		reservations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "costgate_ledger_reservations_total",
			Help: "Ledger reservation attempts by result.",
		}, []string{"result"}),
		finalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "costgate_ledger_finalizations_total",
			Help: "Ledger finalizations by accounting mode.",
		}, []string{"mode"}),
		committed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "costgate_ledger_committed_micro_usd_total",
			Help: "Committed platform spend by tenant, micro-USD.",
		}, []string{"tenant"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "costgate_ensemble_rejections_total",
			Help: "Ensemble admission rejections by code.",
		}, []string{"code"}),
		drift: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "costgate_drift_checks_total",
			Help: "Drift monitor tenant checks by level.",
		}, []string{"level"}),
	}
}

func (m *PromMeter) OnAcquire(e costgate.AcquireEvent) {
	if e.Exhausted {
		m.exhaustions.Inc()
		m.waitSeconds.Observe(e.Waited.Seconds())
		return
	}
	result := "denied"
	if e.Acquired {
		result = "acquired"
	}
	m.acquires.WithLabelValues(result).Inc()
	if e.Tokens >= 0 {
		m.tokens.Set(e.Tokens)
	}
}

func (m *PromMeter) OnReserve(e costgate.ReserveEvent) {
	result := "reserved"
	switch {
	case e.Denied:
		result = "denied"
	case e.Err != nil:
		result = "error"
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *PromMeter) OnFinalize(e costgate.FinalizeEvent) {
	m.finalized.WithLabelValues(string(e.Mode)).Inc()
	if e.Applied && e.Mode == costgate.AccountingPlatform {
		m.committed.WithLabelValues(e.TenantID).Add(float64(e.Actual))
	}
}

func (m *PromMeter) OnReject(e costgate.RejectEvent) {
	m.rejections.WithLabelValues(e.Code).Inc()
}

func (m *PromMeter) OnDrift(e costgate.DriftEvent) {
	m.drift.WithLabelValues(e.Level.String()).Inc()
}
