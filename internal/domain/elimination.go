package domain

import "fmt"

type RuleType string

const (
	RuleEventSource RuleType = "EVENT_SOURCE"
	RuleTenantPair  RuleType = "TENANT_PAIR"
	RuleTagBased    RuleType = "TAG_BASED"
	RuleManual      RuleType = "MANUAL"
)

// EliminationRule is the stored form of an intercompany elimination
// rule. The criteria columns are sparse; Criteria() narrows a row into
// the closed variant its type needs.
type EliminationRule struct {
	ID          string   `json:"id"`
	OrgID       string   `json:"org_id"`
	Type        RuleType `json:"type"`
	Active      bool     `json:"active"`
	Description string   `json:"description,omitempty"`

	SourceEvent string  `json:"source_event,omitempty"`
	TenantA     string  `json:"tenant_a,omitempty"`
	TenantB     string  `json:"tenant_b,omitempty"`
	Tag         string  `json:"tag,omitempty"`
	Metric      string  `json:"metric,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
}

// RuleCriteria is the closed set of matching criteria. Each variant
// carries only the fields its matching logic reads.
type RuleCriteria interface {
	isCriteria()
}

// EventSourceCriteria nets out values originating from a single source
// event counted in more than one tenant.
type EventSourceCriteria struct {
	SourceEvent string
}

// TenantPairCriteria nets intercompany transactions between two
// specific tenants.
type TenantPairCriteria struct {
	TenantA string
	TenantB string
}

// TagCriteria nets values sharing a configured tag.
type TagCriteria struct {
	Tag string
}

// ManualCriteria applies an explicit, administrator-specified
// elimination amount to a metric. Tenant narrows the target row when
// set.
type ManualCriteria struct {
	Metric string
	Tenant string
	Amount float64
}

func (EventSourceCriteria) isCriteria() {}
func (TenantPairCriteria) isCriteria()  {}
func (TagCriteria) isCriteria()         {}
func (ManualCriteria) isCriteria()      {}

// Criteria converts the stored row into its typed variant, rejecting
// rows whose type/field combination is incoherent.
func (r *EliminationRule) Criteria() (RuleCriteria, error) {
	switch r.Type {
	case RuleEventSource:
		if r.SourceEvent == "" {
			return nil, fmt.Errorf("rule %s: EVENT_SOURCE requires source_event", r.ID)
		}
		return EventSourceCriteria{SourceEvent: r.SourceEvent}, nil
	case RuleTenantPair:
		if r.TenantA == "" || r.TenantB == "" {
			return nil, fmt.Errorf("rule %s: TENANT_PAIR requires both tenants", r.ID)
		}
		return TenantPairCriteria{TenantA: r.TenantA, TenantB: r.TenantB}, nil
	case RuleTagBased:
		if r.Tag == "" {
			return nil, fmt.Errorf("rule %s: TAG_BASED requires tag", r.ID)
		}
		return TagCriteria{Tag: r.Tag}, nil
	case RuleManual:
		if r.Metric == "" {
			return nil, fmt.Errorf("rule %s: MANUAL requires metric", r.ID)
		}
		return ManualCriteria{Metric: r.Metric, Tenant: r.TenantA, Amount: r.Amount}, nil
	default:
		return nil, fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
	}
}
