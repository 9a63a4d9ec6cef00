package domain

// Lineage records which FX rates, elimination rules, and adjustments
// contributed to a fact's run. Stored as JSON alongside each fact.
type Lineage struct {
	FxRateIDs          []string `json:"fx_rate_ids,omitempty"`
	EliminationRuleIDs []string `json:"elimination_rule_ids,omitempty"`
	AdjustmentIDs      []string `json:"adjustment_ids,omitempty"`
}

// ConsolidatedFact is a final, per-unit/period/metric consolidated
// value. Facts are written only at the end of a run, atomically for the
// whole run.
type ConsolidatedFact struct {
	ID        string  `json:"id"`
	RunID     string  `json:"run_id"`
	OrgID     string  `json:"org_id"`
	OrgUnitID string  `json:"org_unit_id"`
	Period    string  `json:"period"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Currency  string  `json:"currency"`
	Lineage   Lineage `json:"lineage"`
}
