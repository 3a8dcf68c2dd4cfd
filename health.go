package costgate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// Dependency names tracked by the gateway's health probe.
const (
	DepRateLimiter = "rate_limiter"
	DepLedger      = "ledger"
	DepDownstream  = "downstream"
)

// HealthState describes the health of a gateway dependency.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker tracks per-dependency health using a circuit breaker
// pattern. It is advisory: the admission path never consults it, only the
// health probe does.
type HealthTracker struct {
	mu   sync.RWMutex
	deps map[string]*depHealth
}

type depHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time   // when state transitioned to unhealthy
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{deps: make(map[string]*depHealth)}
}

// GetHealth returns the current health state of a dependency.
func (h *HealthTracker) GetHealth(dep string) HealthState {
	h.mu.RLock()
	dh, ok := h.deps[dep]
	h.mu.RUnlock()

	if !ok {
		return HealthHealthy
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if dh.state == HealthUnhealthy && time.Since(dh.unhealthyAt) >= healthUnhealthyPeriod {
		dh.state = HealthHalfOpen
	}
	return dh.state
}

// Snapshot returns the state of every tracked dependency.
func (h *HealthTracker) Snapshot() map[string]HealthState {
	h.mu.RLock()
	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	h.mu.RUnlock()

	out := make(map[string]HealthState, len(names))
	for _, name := range names {
		out[name] = h.GetHealth(name)
	}
	return out
}

// RecordSuccess records a successful store round trip for a dependency.
func (h *HealthTracker) RecordSuccess(dep string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dh := h.getOrCreate(dep)
	dh.state = HealthHealthy
	dh.failures = dh.failures[:0]
}

// RecordFailure records a failed store round trip for a dependency.
func (h *HealthTracker) RecordFailure(dep string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dh := h.getOrCreate(dep)
	if dh.state == HealthUnhealthy {
		return
	}

	now := time.Now()
	cutoff := now.Add(-healthFailureWindow)
	valid := dh.failures[:0]
	for _, t := range dh.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	dh.failures = append(valid, now)

	if len(dh.failures) >= healthFailureThreshold {
		dh.state = HealthUnhealthy
		dh.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(dep string) *depHealth {
	dh, ok := h.deps[dep]
	if !ok {
		dh = &depHealth{state: HealthHealthy}
		h.deps[dep] = dh
	}
	return dh
}
