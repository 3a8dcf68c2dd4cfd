package costgate

import "time"

// Meter observes admission and accounting events for monitoring/logging.
// The core only calls increment/set-style hooks; the metrics backend is
// supplied by the caller.
type Meter interface {
	// OnAcquire is called after every token bucket attempt or wait.
	OnAcquire(event AcquireEvent)

	// OnReserve is called after every ledger reservation attempt.
	OnReserve(event ReserveEvent)

	// OnFinalize is called after every ledger finalization.
	OnFinalize(event FinalizeEvent)

	// OnReject is called when an ensemble request is rejected.
	OnReject(event RejectEvent)

	// OnDrift is called once per tenant per monitor tick.
	OnDrift(event DriftEvent)
}

// AcquireEvent describes a token bucket attempt.
type AcquireEvent struct {
	Acquired  bool
	Waited    time.Duration
	Exhausted bool
	// Tokens is the bucket level after the attempt, when known (< 0 otherwise).
	Tokens float64
}

// ReserveEvent describes a ledger reservation attempt.
type ReserveEvent struct {
	TenantID string
	Amount   MicroUSD
	Denied   bool
	Err      error
}

// FinalizeEvent describes a ledger finalization.
type FinalizeEvent struct {
	TenantID      string
	ReservationID string
	Actual        MicroUSD
	Mode          AccountingMode
	// Applied is false when the finalization was a duplicate no-op.
	Applied bool
}

// RejectEvent describes an ensemble admission rejection.
type RejectEvent struct {
	TenantID string
	Tier     string
	Strategy Strategy
	Code     string
}

// DriftLevel classifies one tenant's drift in a monitor tick.
type DriftLevel int

const (
	DriftHealthy DriftLevel = iota
	DriftExpectedLag
	DriftAnomalous
)

func (l DriftLevel) String() string {
	switch l {
	case DriftHealthy:
		return "healthy"
	case DriftExpectedLag:
		return "expected-lag"
	case DriftAnomalous:
		return "anomalous"
	default:
		return "unknown"
	}
}

// DriftEvent describes one tenant's drift classification.
type DriftEvent struct {
	Sample    DriftSample
	Drift     MicroCents
	Threshold MicroCents
	Level     DriftLevel
	// Alarm is the named alarm raised for anomalous drift, empty otherwise.
	Alarm string
}
