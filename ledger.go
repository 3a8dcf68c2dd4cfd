package costgate

import (
	"context"
	"time"
)

// DefaultReservationTTL is tied to the expected duration of a downstream
// invocation; an un-finalized reservation expires after this with no
// ledger effect.
const DefaultReservationTTL = 5 * time.Minute

// Ledger is the per-tenant monthly spend ledger.
//
// Reserve checks the ceiling against the durable committed total only, not
// against other in-flight reservations: several reservations can pass the
// check before any finalizes. This soft ceiling is deliberate (it trades
// strict enforcement for admission latency) and is backstopped by the
// drift monitor.
type Ledger interface {
	// Reserve places a TTL-bound hold of amount micro-USD for a tenant.
	// Returns a CeilingError if the durable committed total plus amount
	// would exceed the monthly ceiling, and a ValidationError for
	// negative or over-ceiling amounts, before any store mutation.
	Reserve(ctx context.Context, tenantID string, amount MicroUSD) (Reservation, error)

	// Finalize commits the actual cost of a completed request.
	// Idempotent per reservation id under at-least-once retry, and must
	// succeed after the reservation's TTL has already expired. Only
	// PLATFORM_BUDGET costs touch the durable total; BYOK finalizations
	// release the reservation and write nothing. The cache counter is
	// updated opportunistically in the same call.
	Finalize(ctx context.Context, res Reservation, actual MicroUSD, mode AccountingMode) error

	// CommittedTotal reads the durable, source-of-truth committed spend
	// for the tenant's current month.
	CommittedTotal(ctx context.Context, tenantID string) (MicroUSD, error)

	// CachedTotal reads the fast, eventually-consistent mirror of
	// committed spend, in micro-cents. Advisory only.
	CachedTotal(ctx context.Context, tenantID string) (MicroCents, error)
}

// DurableStore persists monthly committed totals. It is the single source
// of truth for billing; only finalization writes to it.
type DurableStore interface {
	// AddCommitted adds amount to the tenant-month total, deduplicated
	// by finalizeKey. Returns false when the key was already applied.
	AddCommitted(ctx context.Context, tenantID, month string, amount MicroUSD, finalizeKey string) (bool, error)

	// CommittedTotal returns the tenant-month total, zero if absent.
	CommittedTotal(ctx context.Context, tenantID, month string) (MicroUSD, error)
}

// MonthKey returns the tenant-month bucket for a point in time, UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
