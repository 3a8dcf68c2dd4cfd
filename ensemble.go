package costgate

import "fmt"

// minEnsembleN is the smallest meaningful ensemble: a single call is not an
// ensemble.
const minEnsembleN = 2

// ValidateEnsemble validates and clamps a multi-model request against a
// tier's limits. Malformed shapes are handled by clamping, not rejection;
// the only rejections are an unknown strategy and a tier with ensembles
// disabled (fixed code, regardless of requested shape).
func ValidateEnsemble(req EnsembleRequest, tier Tier) (EnsembleDecision, error) {
	if !tier.Allowed {
		return EnsembleDecision{}, rejectEnsemble(
			fmt.Sprintf("ensembles are not available on the %s tier", tier.Name))
	}
	if !req.Strategy.Valid() {
		return EnsembleDecision{}, rejectEnsemble(
			fmt.Sprintf("unknown ensemble strategy %q", req.Strategy))
	}

	// n = requested.n ?? len(models) ?? 2, clamped to [2, tier.maxN].
	n := minEnsembleN
	switch {
	case req.N != nil:
		n = *req.N
	case len(req.Models) > 0:
		n = len(req.Models)
	}
	n = clampInt(n, minEnsembleN, tier.MaxN)

	dec := EnsembleDecision{
		Strategy:         req.Strategy,
		N:                n,
		Models:           req.Models,
		BudgetMultiplier: n,
	}

	if req.Strategy == StrategyConsensus {
		// Default quorum is majority plus one.
		q := ceilHalf(n) + 1
		if req.Quorum != nil {
			q = *req.Quorum
		}
		maxQ := tier.MaxQuorum
		if n < maxQ {
			maxQ = n
		}
		dec.Quorum = clampInt(q, 2, maxQ)
	}

	byok := req.BYOKCount
	if byok < 0 {
		byok = 0
	}
	dec.ReserveMultiplier = n - byok
	if dec.ReserveMultiplier < 0 {
		dec.ReserveMultiplier = 0
	}

	return dec, nil
}

// TrustClaims returns the claim map propagated to the downstream verifier.
// Claim names are a wire contract; values always reflect the clamped
// decision, never the raw request.
func (d EnsembleDecision) TrustClaims() map[string]any {
	claims := map[string]any{
		"strategy": string(d.Strategy),
		"n":        d.N,
	}
	if d.Quorum > 0 {
		claims["quorum"] = d.Quorum
	}
	if len(d.Models) > 0 {
		claims["models"] = d.Models
	}
	return claims
}

// CommittedCost reconciles partial failure: only succeeded members
// contribute to the committed cost, failed members contribute zero.
func CommittedCost(outcomes []Outcome) MicroUSD {
	var total MicroUSD
	for _, o := range outcomes {
		if o.Succeeded {
			total += o.CostMicro
		}
	}
	return total
}

// CommittedBreakdown separates platform-accounted committed cost from the
// total committed cost (including BYOK members) for audit reporting.
func CommittedBreakdown(outcomes []Outcome) (platform, total MicroUSD) {
	for _, o := range outcomes {
		if !o.Succeeded {
			continue
		}
		total += o.CostMicro
		if o.Accounting == AccountingPlatform {
			platform += o.CostMicro
		}
	}
	return platform, total
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilHalf(n int) int {
	return (n + 1) / 2
}
