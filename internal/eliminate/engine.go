// Package eliminate removes intercompany double-counting from the
// FX-normalized metric snapshot.
package eliminate

import (
	"fmt"
	"strings"

	"github.com/impactly/consolidator/internal/domain"
)

// Apply runs the org's active rules over the snapshot and returns the
// netted result plus the ids of the rules that matched anything, for
// lineage. Each rule is applied at most once and rules act on a copy of
// the snapshot, so re-running with the same rule set yields the same
// output.
func Apply(orgID, period string, metrics []domain.TenantMetricData,
	rules []domain.EliminationRule) ([]domain.TenantMetricData, []string, error) {

	out := make([]domain.TenantMetricData, len(metrics))
	copy(out, metrics)

	var applied []string
	seen := make(map[string]bool, len(rules))

	for i := range rules {
		rule := &rules[i]
		if !rule.Active || seen[rule.ID] {
			continue
		}
		seen[rule.ID] = true

		criteria, err := rule.Criteria()
		if err != nil {
			return nil, nil, fmt.Errorf("elimination rule for org %s: %w", orgID, err)
		}

		var matched bool
		switch crit := criteria.(type) {
		case domain.EventSourceCriteria:
			matched = netDuplicates(out, rule.ID, func(m *domain.TenantMetricData) string {
				if m.Metadata[domain.MetaSourceEvent] == crit.SourceEvent {
					return crit.SourceEvent
				}
				return ""
			})
		case domain.TenantPairCriteria:
			matched = netTenantPair(out, rule.ID, crit)
		case domain.TagCriteria:
			matched = netDuplicates(out, rule.ID, func(m *domain.TenantMetricData) string {
				if hasTag(m.Metadata[domain.MetaTags], crit.Tag) {
					return crit.Tag
				}
				return ""
			})
		case domain.ManualCriteria:
			matched = applyManual(out, rule.ID, crit)
		}

		if matched {
			applied = append(applied, rule.ID)
		}
	}

	return out, applied, nil
}

// netDuplicates keeps the first row per (metric, key) and zeroes the
// rest, so a value counted in two tenants survives exactly once. key
// returns "" for rows the rule does not match.
func netDuplicates(metrics []domain.TenantMetricData, ruleID string,
	key func(*domain.TenantMetricData) string) bool {

	kept := make(map[string]bool)
	matched := false
	for i := range metrics {
		k := key(&metrics[i])
		if k == "" {
			continue
		}
		group := metrics[i].Metric + "\x00" + k
		if !kept[group] {
			kept[group] = true
			continue
		}
		zeroOut(&metrics[i], ruleID)
		matched = true
	}
	return matched
}

// netTenantPair zeroes intercompany rows between the two tenants: a row
// belongs to the pair when its tenant is one side and its counterparty
// metadata is the other.
func netTenantPair(metrics []domain.TenantMetricData, ruleID string,
	crit domain.TenantPairCriteria) bool {

	matched := false
	for i := range metrics {
		m := &metrics[i]
		cp := m.Metadata[domain.MetaCounterparty]
		if (m.TenantID == crit.TenantA && cp == crit.TenantB) ||
			(m.TenantID == crit.TenantB && cp == crit.TenantA) {
			zeroOut(m, ruleID)
			matched = true
		}
	}
	return matched
}

// applyManual subtracts the configured amount from the targeted metric:
// the named tenant's row when the criteria names one, otherwise the
// first row of the metric.
func applyManual(metrics []domain.TenantMetricData, ruleID string,
	crit domain.ManualCriteria) bool {

	for i := range metrics {
		m := &metrics[i]
		if m.Metric != crit.Metric {
			continue
		}
		if crit.Tenant != "" && m.TenantID != crit.Tenant {
			continue
		}
		annotated := m.CloneMeta()
		annotated.Metadata[domain.MetaEliminatedBy] = ruleID
		annotated.Value = m.Value - crit.Amount
		metrics[i] = annotated
		return true
	}
	return false
}

func zeroOut(m *domain.TenantMetricData, ruleID string) {
	annotated := m.CloneMeta()
	annotated.Metadata[domain.MetaEliminatedBy] = ruleID
	annotated.Value = 0
	*m = annotated
}

func hasTag(tags, want string) bool {
	if tags == "" || want == "" {
		return false
	}
	for _, t := range strings.Split(tags, ",") {
		if strings.TrimSpace(t) == want {
			return true
		}
	}
	return false
}
