package costgate

// CostTable maps model names to worst-case per-call cost estimates in
// micro-USD. Reservations are sized by clamped member count times the
// per-call estimate; by contract with the downstream service no successful
// call may cost more than its estimate.
type CostTable struct {
	Default MicroUSD            `yaml:"default_micro_usd"`
	Models  map[string]MicroUSD `yaml:"models"`
}

// PerCall returns the estimate for a single call to model, falling back to
// the table default for unknown models.
func (t CostTable) PerCall(model string) MicroUSD {
	if v, ok := t.Models[model]; ok {
		return v
	}
	return t.Default
}

// EstimateCallCost returns the worst-case per-call estimate for a decision:
// the most expensive model in the list, or the default when the request
// named no models.
func (t CostTable) EstimateCallCost(d EnsembleDecision) MicroUSD {
	if len(d.Models) == 0 {
		return t.Default
	}
	var max MicroUSD
	for _, m := range d.Models {
		if c := t.PerCall(m); c > max {
			max = c
		}
	}
	return max
}
