package costgate

import (
	"context"
	"sync"
	"time"
)

// UsageStats supplies per-tenant throughput figures to the drift monitor.
type UsageStats interface {
	// ActiveTenants lists tenants that have billed recently.
	ActiveTenants(ctx context.Context) ([]string, error)

	// Sample returns a tenant's recent request rate (requests/minute)
	// and average cost per call (micro-cents). Zero values are valid:
	// the monitor falls back to its static threshold.
	Sample(ctx context.Context, tenantID string) (ratePerMinute float64, avgCost MicroCents, err error)
}

const (
	rateWindow    = time.Minute
	rateRetention = time.Hour
)

// RateTracker is an in-process UsageStats fed by the gateway at
// finalization time. Rates are computed over a one-minute sliding window;
// a tenant stays in the active set for an hour after its last call.
type RateTracker struct {
	mu      sync.Mutex
	tenants map[string]*tenantRate
	now     func() time.Time
}

type tenantRate struct {
	events   []rateEvent // pruned to rateWindow on read and write
	lastSeen time.Time
}

type rateEvent struct {
	at   time.Time
	cost MicroCents
}

var _ UsageStats = (*RateTracker)(nil)

// NewRateTracker creates an empty tracker.
func NewRateTracker() *RateTracker {
	return &RateTracker{
		tenants: make(map[string]*tenantRate),
		now:     time.Now,
	}
}

// Record notes one finalized call for a tenant.
func (r *RateTracker) Record(tenantID string, cost MicroCents) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.tenants[tenantID]
	if !ok {
		tr = &tenantRate{}
		r.tenants[tenantID] = tr
	}
	now := r.now()
	tr.lastSeen = now
	tr.events = pruneEvents(tr.events, now.Add(-rateWindow))
	tr.events = append(tr.events, rateEvent{at: now, cost: cost})
}

// ActiveTenants lists tenants seen within the retention period.
func (r *RateTracker) ActiveTenants(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-rateRetention)
	var out []string
	for id, tr := range r.tenants {
		if tr.lastSeen.Before(cutoff) {
			delete(r.tenants, id)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Sample returns the tenant's windowed rate and average cost per call.
func (r *RateTracker) Sample(_ context.Context, tenantID string) (float64, MicroCents, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.tenants[tenantID]
	if !ok {
		return 0, 0, nil
	}
	tr.events = pruneEvents(tr.events, r.now().Add(-rateWindow))
	n := len(tr.events)
	if n == 0 {
		return 0, 0, nil
	}

	var total MicroCents
	for _, e := range tr.events {
		total += e.cost
	}
	rate := float64(n) / rateWindow.Minutes()
	return rate, total / MicroCents(n), nil
}

func pruneEvents(events []rateEvent, cutoff time.Time) []rateEvent {
	valid := events[:0]
	for _, e := range events {
		if e.at.After(cutoff) {
			valid = append(valid, e)
		}
	}
	return valid
}
