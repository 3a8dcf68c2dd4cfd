// Package costgate is the admission-control and cost-accounting core of a
// multi-tenant LLM gateway: a shared token bucket for platform throughput,
// a reservation-based monthly spend ledger, ensemble fan-out validation,
// and a drift monitor guarding the cache/ledger split.
package costgate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TierResolver maps a tenant to its tier. External collaborator.
type TierResolver interface {
	ResolveTier(ctx context.Context, tenantID string) (Tier, error)
}

// TierResolverFunc adapts a function to TierResolver.
type TierResolverFunc func(ctx context.Context, tenantID string) (Tier, error)

func (f TierResolverFunc) ResolveTier(ctx context.Context, tenantID string) (Tier, error) {
	return f(ctx, tenantID)
}

// TokenSigner signs outbound trust-token claims. External collaborator
// (see the trust package for the JWS implementation).
type TokenSigner interface {
	Sign(claims map[string]any) (string, error)
}

// Invocation is what the gateway forwards to the downstream pooled
// invocation service.
type Invocation struct {
	TenantID   string
	Decision   EnsembleDecision
	TrustToken string
}

// Invoker is the downstream pooled invocation service. It returns one
// Outcome per ensemble member. External collaborator.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) ([]Outcome, error)
}

// Gateway composes admission, rate limiting, budgeting and trust-token
// signing. Thin orchestration: all decisions live in the components.
type Gateway struct {
	cfg     Config
	tiers   TierResolver
	limiter RateLimiter
	ledger  Ledger
	invoker Invoker
	signer  TokenSigner

	meter   Meter
	stats   *RateTracker
	health  *HealthTracker
	costs   CostTable
	maxWait time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithMeter sets the meter.
func WithMeter(m Meter) GatewayOption {
	return func(g *Gateway) { g.meter = m }
}

// WithStats sets the usage tracker shared with the drift monitor.
func WithStats(s *RateTracker) GatewayOption {
	return func(g *Gateway) { g.stats = s }
}

// WithHealthTracker sets the dependency health tracker.
func WithHealthTracker(h *HealthTracker) GatewayOption {
	return func(g *Gateway) { g.health = h }
}

// WithMaxWait overrides the token bucket wait budget per request.
func WithMaxWait(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.maxWait = d }
}

// NewGateway creates a Gateway. The tier resolver, rate limiter, ledger,
// invoker and signer are required; meter, stats and health default to
// no-op/fresh instances.
func NewGateway(cfg Config, tiers TierResolver, limiter RateLimiter, ledger Ledger, invoker Invoker, signer TokenSigner, opts ...GatewayOption) (*Gateway, error) {
	switch {
	case tiers == nil:
		return nil, fmt.Errorf("costgate: tier resolver is required")
	case limiter == nil:
		return nil, fmt.Errorf("costgate: rate limiter is required")
	case ledger == nil:
		return nil, fmt.Errorf("costgate: ledger is required")
	case invoker == nil:
		return nil, fmt.Errorf("costgate: invoker is required")
	case signer == nil:
		return nil, fmt.Errorf("costgate: token signer is required")
	}

	g := &Gateway{
		cfg:     cfg,
		tiers:   tiers,
		limiter: limiter,
		ledger:  ledger,
		invoker: invoker,
		signer:  signer,
		costs:   cfg.Estimates,
		maxWait: cfg.Bucket.BucketConfig().MaxWait,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.meter == nil {
		g.meter = noopMeter{}
	}
	if g.stats == nil {
		g.stats = NewRateTracker()
	}
	if g.health == nil {
		g.health = NewHealthTracker()
	}
	return g, nil
}

// Result is the full outcome of one brokered request.
type Result struct {
	Decision    EnsembleDecision
	Reservation Reservation
	TrustToken  string
	Outcomes    []Outcome

	// CommittedMicro is the total committed cost including BYOK members;
	// PlatformMicro is the slice charged to the platform ledger.
	CommittedMicro MicroUSD
	PlatformMicro  MicroUSD
}

// Handle admits, forwards and settles one inbound invocation request.
// Order matters: tier/shape rejection must never touch the ledger, and
// the ledger reservation precedes the global rate gate.
func (g *Gateway) Handle(ctx context.Context, tenantID string, req EnsembleRequest) (Result, error) {
	tier, err := g.tiers.ResolveTier(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("costgate: resolve tier for %s: %w", tenantID, err)
	}

	decision, err := ValidateEnsemble(req, tier)
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			g.meter.OnReject(RejectEvent{
				TenantID: tenantID,
				Tier:     tier.Name,
				Strategy: req.Strategy,
				Code:     rej.Code,
			})
		}
		return Result{}, err
	}

	perCall := g.costs.EstimateCallCost(decision)
	amount := perCall * MicroUSD(decision.ReserveMultiplier)

	reservation, err := g.ledger.Reserve(ctx, tenantID, amount)
	g.meter.OnReserve(ReserveEvent{
		TenantID: tenantID,
		Amount:   amount,
		Denied:   IsRejection(err),
		Err:      err,
	})
	if err != nil {
		if !IsRejection(err) {
			g.health.RecordFailure(DepLedger)
		}
		return Result{}, err
	}
	g.health.RecordSuccess(DepLedger)

	// An un-finalized reservation expires via TTL, so bailing out below
	// needs no explicit release.
	if err := g.limiter.AcquireWait(ctx, g.maxWait); err != nil {
		if !errors.Is(err, ErrBucketExhausted) {
			g.health.RecordFailure(DepRateLimiter)
		}
		return Result{}, err
	}
	g.health.RecordSuccess(DepRateLimiter)

	claims := decision.TrustClaims()
	claims["tenant_id"] = tenantID
	claims["tier"] = tier.Name
	token, err := g.signer.Sign(claims)
	if err != nil {
		return Result{}, fmt.Errorf("costgate: sign trust token: %w", err)
	}

	outcomes, err := g.invoker.Invoke(ctx, Invocation{
		TenantID:   tenantID,
		Decision:   decision,
		TrustToken: token,
	})
	if err != nil {
		g.health.RecordFailure(DepDownstream)
		// Settle the reservation with zero cost; idempotent, so a
		// caller-side retry that does reach the downstream is safe.
		_ = g.finalize(ctx, tenantID, reservation, nil)
		return Result{}, fmt.Errorf("costgate: downstream invocation: %w", err)
	}
	g.health.RecordSuccess(DepDownstream)

	platform, total := CommittedBreakdown(outcomes)
	if err := g.finalize(ctx, tenantID, reservation, outcomes); err != nil {
		return Result{}, err
	}

	return Result{
		Decision:       decision,
		Reservation:    reservation,
		TrustToken:     token,
		Outcomes:       outcomes,
		CommittedMicro: total,
		PlatformMicro:  platform,
	}, nil
}

// Report settles a reservation from per-member outcomes delivered out of
// band (at-least-once; finalization is idempotent per reservation id).
func (g *Gateway) Report(ctx context.Context, reservation Reservation, outcomes []Outcome) error {
	return g.finalize(ctx, reservation.TenantID, reservation, outcomes)
}

func (g *Gateway) finalize(ctx context.Context, tenantID string, res Reservation, outcomes []Outcome) error {
	platform, _ := CommittedBreakdown(outcomes)

	mode := AccountingPlatform
	if res.Amount == 0 && platform == 0 {
		// Pure-BYOK request: nothing may touch the platform ledger.
		mode = AccountingBYOK
	}

	err := g.ledger.Finalize(ctx, res, platform, mode)
	g.meter.OnFinalize(FinalizeEvent{
		TenantID:      tenantID,
		ReservationID: res.ID,
		Actual:        platform,
		Mode:          mode,
		Applied:       err == nil,
	})
	if err != nil {
		g.health.RecordFailure(DepLedger)
		return fmt.Errorf("costgate: finalize reservation %s: %w", res.ID, err)
	}
	g.health.RecordSuccess(DepLedger)

	for _, o := range outcomes {
		if o.Succeeded && o.Accounting == AccountingPlatform {
			g.stats.Record(tenantID, o.CostMicro.Cents())
		}
	}
	return nil
}

// Health reports the state of the gateway's dependencies for the probe.
func (g *Gateway) Health() map[string]HealthState {
	return g.health.Snapshot()
}

// Stats exposes the usage tracker so a drift monitor can share it.
func (g *Gateway) Stats() *RateTracker { return g.stats }

// BucketStatus reads the shared bucket level for the observability surface.
func (g *Gateway) BucketStatus(ctx context.Context) (BucketStatus, error) {
	return g.limiter.Status(ctx)
}
