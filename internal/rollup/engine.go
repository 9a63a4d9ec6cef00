// Package rollup aggregates metric values bottom-up through a
// validated, acyclic org-unit forest.
package rollup

import (
	"fmt"
	"sort"

	"github.com/impactly/consolidator/internal/domain"
)

type Aggregation string

const (
	Sum Aggregation = "SUM"
	Avg Aggregation = "AVG"
	Min Aggregation = "MIN"
	Max Aggregation = "MAX"
)

// DirectAmount is an extra per-unit contribution, used to feed
// adjustment applications into the rollup.
type DirectAmount struct {
	OrgUnitID string
	Metric    string
	Value     float64
}

// UnitValue is one unit's aggregate for one metric.
type UnitValue struct {
	OrgUnitID string  `json:"org_unit_id"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
}

// Aggregate computes every unit's aggregates strictly bottom-up: a
// unit's value is computed only after all of its children's values are
// known.
//
// Contributions to a unit are:
//   - tenant members, weighted by percentShare/100, so a member split
//     across sibling units is counted exactly once overall;
//   - child units' aggregates, in full (their membership shares are a
//     composition invariant enforced by hierarchy validation, not a
//     scaling factor);
//   - direct amounts targeted at the unit.
//
// aggregations selects SUM/AVG/MIN/MAX per metric; missing metrics
// default to SUM. The unit forest must already be validated acyclic.
func Aggregate(units []domain.OrgUnit, memberships []domain.OrgUnitMembership,
	metrics []domain.TenantMetricData, direct []DirectAmount,
	aggregations map[string]Aggregation) ([]UnitValue, error) {

	index := make(map[string]int, len(units))
	for i, u := range units {
		index[u.ID] = i
	}

	children := make(map[string][]string)
	for _, u := range units {
		if u.ParentID != "" {
			children[u.ParentID] = append(children[u.ParentID], u.ID)
		}
	}

	order, err := bottomUpOrder(units, children)
	if err != nil {
		return nil, err
	}

	// Tenant values per (tenant, metric).
	tenantValues := make(map[string]map[string]float64)
	metricSet := make(map[string]bool)
	for _, m := range metrics {
		if tenantValues[m.TenantID] == nil {
			tenantValues[m.TenantID] = make(map[string]float64)
		}
		tenantValues[m.TenantID][m.Metric] += m.Value
		metricSet[m.Metric] = true
	}
	for _, d := range direct {
		metricSet[d.Metric] = true
	}

	directByUnit := make(map[string]map[string][]float64)
	for _, d := range direct {
		if directByUnit[d.OrgUnitID] == nil {
			directByUnit[d.OrgUnitID] = make(map[string][]float64)
		}
		directByUnit[d.OrgUnitID][d.Metric] = append(directByUnit[d.OrgUnitID][d.Metric], d.Value)
	}

	membersByUnit := make(map[string][]domain.OrgUnitMembership)
	for _, m := range memberships {
		membersByUnit[m.OrgUnitID] = append(membersByUnit[m.OrgUnitID], m)
	}

	// aggregates[unitID][metric] holds the unit's finished value.
	aggregates := make(map[string]map[string]float64, len(units))

	metricsSorted := sortedKeys(metricSet)

	for _, unitID := range order {
		unitAgg := make(map[string]float64)

		for _, metric := range metricsSorted {
			var contributions []float64

			for _, m := range membersByUnit[unitID] {
				if _, isUnit := index[m.MemberID]; isUnit {
					continue
				}
				tv, ok := tenantValues[m.MemberID]
				if !ok {
					continue
				}
				v, ok := tv[metric]
				if !ok {
					continue
				}
				contributions = append(contributions, v*m.PercentShare/100)
			}

			for _, childID := range children[unitID] {
				if v, ok := aggregates[childID][metric]; ok {
					contributions = append(contributions, v)
				}
			}

			contributions = append(contributions, directByUnit[unitID][metric]...)

			if len(contributions) == 0 {
				continue
			}

			agg := aggregations[metric]
			if agg == "" {
				agg = Sum
			}
			v, err := reduce(agg, contributions)
			if err != nil {
				return nil, fmt.Errorf("aggregate %s for unit %s: %w", metric, unitID, err)
			}
			unitAgg[metric] = v
		}

		aggregates[unitID] = unitAgg
	}

	var out []UnitValue
	for _, u := range units {
		for _, metric := range metricsSorted {
			if v, ok := aggregates[u.ID][metric]; ok {
				out = append(out, UnitValue{OrgUnitID: u.ID, Metric: metric, Value: v})
			}
		}
	}
	return out, nil
}

// bottomUpOrder returns unit ids children-first (reverse topological
// order over the parent relation).
func bottomUpOrder(units []domain.OrgUnit, children map[string][]string) ([]string, error) {
	state := make(map[string]int, len(units)) // 0 unvisited, 1 visiting, 2 done
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case 1:
			return fmt.Errorf("cycle detected at unit %s", id)
		case 2:
			return nil
		}
		state[id] = 1
		for _, child := range children[id] {
			if err := visit(child); err != nil {
				return err
			}
		}
		state[id] = 2
		order = append(order, id)
		return nil
	}

	for _, u := range units {
		if u.ParentID == "" {
			if err := visit(u.ID); err != nil {
				return nil, err
			}
		}
	}
	// Units whose parent is outside the set (or cyclic leftovers) still
	// need an order slot; the validator has already rejected bad trees.
	for _, u := range units {
		if state[u.ID] != 2 {
			if err := visit(u.ID); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func reduce(agg Aggregation, values []float64) (float64, error) {
	switch agg {
	case Sum:
		var total float64
		for _, v := range values {
			total += v
		}
		return total, nil
	case Avg:
		var total float64
		for _, v := range values {
			total += v
		}
		return total / float64(len(values)), nil
	case Min:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case Max:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	default:
		return 0, fmt.Errorf("unsupported aggregation %q", agg)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
