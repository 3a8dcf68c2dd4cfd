package costgate

import "time"

// Strategy identifies how an ensemble combines its member calls.
type Strategy string

const (
	StrategyBestOfN   Strategy = "best_of_n"
	StrategyConsensus Strategy = "consensus"
	StrategyFallback  Strategy = "fallback"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyBestOfN, StrategyConsensus, StrategyFallback:
		return true
	}
	return false
}

// AccountingMode says which budget a model call is charged against.
type AccountingMode string

const (
	// AccountingPlatform charges the platform's pooled budget.
	AccountingPlatform AccountingMode = "PLATFORM_BUDGET"
	// AccountingBYOK charges a tenant-supplied credential; such calls
	// never touch the platform ledger.
	AccountingBYOK AccountingMode = "BYOK"
)

// Tier holds the ensemble limits for a tenant tier.
type Tier struct {
	Name      string
	Allowed   bool
	MaxN      int
	MaxQuorum int
}

// EnsembleRequest is the requested multi-model shape of an inbound call.
// Nil N/Quorum mean "unspecified"; defaults and clamping are applied by
// ValidateEnsemble. Stateless beyond a single request.
type EnsembleRequest struct {
	Strategy  Strategy `json:"strategy"`
	N         *int     `json:"n,omitempty"`
	Quorum    *int     `json:"quorum,omitempty"`
	Models    []string `json:"models,omitempty"`
	BYOKCount int      `json:"byok_count,omitempty"`
}

// EnsembleDecision is the validated, clamped shape of an admitted request.
type EnsembleDecision struct {
	Strategy Strategy
	N        int
	// Quorum is set only for the consensus strategy; zero otherwise.
	Quorum int
	Models []string

	// BudgetMultiplier is the worst-case call count: clamped N for every
	// strategy (fallback reserves for all N sequential attempts).
	BudgetMultiplier int
	// ReserveMultiplier counts only platform-accounted members:
	// max(N - byok, 0). The ledger reservation is sized by this.
	ReserveMultiplier int
}

// Outcome reports one ensemble member's result, consumed by partial-cost
// reconciliation and ledger finalization.
type Outcome struct {
	Succeeded  bool           `json:"succeeded"`
	CostMicro  MicroUSD       `json:"costMicro"`
	Accounting AccountingMode `json:"accountingMode"`
}

// Reservation is a provisional, TTL-bound hold against a tenant's monthly
// budget. It never affects the durable ledger on its own: it is consumed
// exactly once by Finalize, or it expires with no ledger effect.
type Reservation struct {
	ID        string
	TenantID  string
	Amount    MicroUSD
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the reservation's TTL has elapsed at now.
func (r Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// DriftSample is one tenant's view in a single monitor tick. Ephemeral.
type DriftSample struct {
	TenantID       string
	DurableTotal   MicroUSD
	CacheTotal     MicroCents
	RatePerMinute  float64
	AvgCostPerCall MicroCents
}
