// Package ledger provides Ledger implementations for per-tenant monthly
// spend accounting: an in-memory ledger with full semantics for tests and
// single-instance use, and a Redis-fronted ledger (TTL reservations plus
// the micro-cent cache counter) delegating durable totals to a
// DurableStore such as the Postgres one in this package.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ineyio/costgate"
)

// MemoryLedger keeps reservations, the durable total and the cache mirror
// in process, under one mutex. The cache mirror is maintained with the
// same x100 unit split as the Redis ledger so drift tooling behaves
// identically against it.
type MemoryLedger struct {
	ceiling costgate.MicroUSD
	ttl     time.Duration
	now     func() time.Time

	mu           sync.Mutex
	committed    map[string]costgate.MicroUSD   // tenant-month -> durable total
	cache        map[string]costgate.MicroCents // tenant-month -> cache counter
	reservations map[string]costgate.Reservation
	finalized    map[string]time.Time // reservation id -> finalize time
}

var _ costgate.Ledger = (*MemoryLedger)(nil)

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithCeiling sets the monthly ceiling (default $100,000).
func WithCeiling(c costgate.MicroUSD) MemoryOption {
	return func(l *MemoryLedger) { l.ceiling = c }
}

// WithTTL sets the reservation TTL.
func WithTTL(d time.Duration) MemoryOption {
	return func(l *MemoryLedger) { l.ttl = d }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) { l.now = now }
}

// NewMemory creates an in-memory ledger.
func NewMemory(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		ceiling:      costgate.DefaultCeilingMicroUSD,
		ttl:          costgate.DefaultReservationTTL,
		now:          time.Now,
		committed:    make(map[string]costgate.MicroUSD),
		cache:        make(map[string]costgate.MicroCents),
		reservations: make(map[string]costgate.Reservation),
		finalized:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func monthKeyOf(tenantID string, t time.Time) string {
	return tenantID + ":" + costgate.MonthKey(t)
}

// Reserve places a TTL-bound hold. The ceiling is checked against the
// durable committed total only; concurrent in-flight reservations are not
// counted (soft ceiling, caught after the fact by drift monitoring).
func (l *MemoryLedger) Reserve(_ context.Context, tenantID string, amount costgate.MicroUSD) (costgate.Reservation, error) {
	if err := costgate.ValidateAmount("amount", amount, l.ceiling); err != nil {
		return costgate.Reservation{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.expireLocked(now)

	committed := l.committed[monthKeyOf(tenantID, now)]
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
	l.reservations[res.ID] = res
	return res, nil
}

// Finalize commits the actual cost. Idempotent per reservation id; a
// reservation that already expired is treated as released, and the
// durable write still lands exactly once.
func (l *MemoryLedger) Finalize(_ context.Context, res costgate.Reservation, actual costgate.MicroUSD, mode costgate.AccountingMode) error {
	if err := costgate.ValidateAmount("actual", actual, l.ceiling); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.finalized[res.ID]; done {
		return nil
	}

	now := l.now()
	l.finalized[res.ID] = now
	delete(l.reservations, res.ID) // absent when expired; that is fine

	if mode != costgate.AccountingPlatform {
		return nil
	}

	key := monthKeyOf(res.TenantID, now)
	l.cache[key] += actual.Cents()
	l.committed[key] += actual
	return nil
}

// CommittedTotal reads the durable total for the current month.
func (l *MemoryLedger) CommittedTotal(_ context.Context, tenantID string) (costgate.MicroUSD, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[monthKeyOf(tenantID, l.now())], nil
}

// CachedTotal reads the cache mirror for the current month, micro-cents.
func (l *MemoryLedger) CachedTotal(_ context.Context, tenantID string) (costgate.MicroCents, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache[monthKeyOf(tenantID, l.now())], nil
}

// SkewCache adjusts the cache mirror without touching the durable total.
// Test hook for exercising drift detection.
func (l *MemoryLedger) SkewCache(tenantID string, delta costgate.MicroCents) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[monthKeyOf(tenantID, l.now())] += delta
}

// expireLocked drops reservations past their TTL. Expiry has no ledger
// effect; the id stays eligible for an idempotent late finalize.
func (l *MemoryLedger) expireLocked(now time.Time) {
	for id, res := range l.reservations {
		if res.Expired(now) {
			delete(l.reservations, id)
		}
	}
}
