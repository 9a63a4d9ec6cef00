// Package hierarchy validates an org's unit tree and membership shares
// before any consolidation computation proceeds.
package hierarchy

import (
	"fmt"
	"math"
	"sort"

	"github.com/impactly/consolidator/internal/domain"
)

type ErrorCode string

const (
	CodeOrphanedUnit        ErrorCode = "ORPHANED_UNIT"
	CodeCircularReference   ErrorCode = "CIRCULAR_REFERENCE"
	CodeInvalidPercentShare ErrorCode = "INVALID_PERCENT_SHARES"
)

// ValidationError is one hard problem found in the hierarchy.
type ValidationError struct {
	Code      ErrorCode `json:"code"`
	OrgUnitID string    `json:"org_unit_id"`
	Message   string    `json:"message"`
}

// Stats are aggregate counts surfaced for observability.
type Stats struct {
	TotalUnits           int `json:"total_units"`
	ActiveUnits          int `json:"active_units"`
	OrphanedUnits        int `json:"orphaned_units"`
	CircularReferences   int `json:"circular_references"`
	InvalidPercentShares int `json:"invalid_percent_shares"`
}

// Result is the full validator output. Validation always runs to
// completion so operators see every problem in one pass.
type Result struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
	Stats    Stats             `json:"stats"`
}

// Validate checks the unit forest and membership shares. It is pure
// over the in-memory inputs and never exits early.
func Validate(units []domain.OrgUnit, memberships []domain.OrgUnitMembership) *Result {
	res := &Result{Valid: true}
	res.Stats.TotalUnits = len(units)

	// id -> index map over the contiguous unit slice; parent lookups
	// stay O(1) instead of scanning the slice per step.
	index := make(map[string]int, len(units))
	for i, u := range units {
		index[u.ID] = i
		if u.Active {
			res.Stats.ActiveUnits++
		}
	}

	checkOrphans(units, index, res)
	checkCycles(units, index, res)
	checkPercentShares(units, memberships, res)
	checkInactiveWithMembers(units, memberships, res)

	res.Valid = len(res.Errors) == 0
	return res
}

func checkOrphans(units []domain.OrgUnit, index map[string]int, res *Result) {
	for _, u := range units {
		if u.ParentID == "" {
			continue
		}
		if _, ok := index[u.ParentID]; !ok {
			res.Stats.OrphanedUnits++
			res.Errors = append(res.Errors, ValidationError{
				Code:      CodeOrphanedUnit,
				OrgUnitID: u.ID,
				Message:   fmt.Sprintf("unit %s references missing parent %s", u.ID, u.ParentID),
			})
		}
	}
}

// checkCycles walks each unvisited unit's parent chain with a
// current-path set. Revisiting a node on the current path marks every
// unit on that path circular; nodes visited in any walk are never
// re-walked.
func checkCycles(units []domain.OrgUnit, index map[string]int, res *Result) {
	visited := make(map[string]bool, len(units))
	circular := make(map[string]bool)

	for _, start := range units {
		if visited[start.ID] {
			continue
		}

		onPath := make(map[string]bool)
		var path []string

		cur := start.ID
		for cur != "" {
			if onPath[cur] {
				for _, id := range path {
					circular[id] = true
				}
				break
			}
			if visited[cur] {
				break
			}
			onPath[cur] = true
			path = append(path, cur)
			visited[cur] = true

			i, ok := index[cur]
			if !ok {
				break
			}
			cur = units[i].ParentID
		}
	}

	ids := make([]string, 0, len(circular))
	for id := range circular {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		res.Stats.CircularReferences++
		res.Errors = append(res.Errors, ValidationError{
			Code:      CodeCircularReference,
			OrgUnitID: id,
			Message:   fmt.Sprintf("unit %s is part of a circular parent chain", id),
		})
	}
}

func checkPercentShares(units []domain.OrgUnit,
	memberships []domain.OrgUnitMembership, res *Result) {

	sums := make(map[string]float64)
	for _, m := range memberships {
		sums[m.OrgUnitID] += m.PercentShare
	}

	// Iterate units, not the sum map, for deterministic error order.
	for _, u := range units {
		sum, ok := sums[u.ID]
		if !ok {
			continue
		}
		if math.Abs(sum-100) > domain.ShareTolerance {
			res.Stats.InvalidPercentShares++
			res.Errors = append(res.Errors, ValidationError{
				Code:      CodeInvalidPercentShare,
				OrgUnitID: u.ID,
				Message:   fmt.Sprintf("unit %s membership shares sum to %.2f, expected 100", u.ID, sum),
			})
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"Membership shares of %q total %.2f%% instead of 100%%; rollup for this unit would double- or under-count",
				u.Name, sum))
		}
	}
}

func checkInactiveWithMembers(units []domain.OrgUnit,
	memberships []domain.OrgUnitMembership, res *Result) {

	members := make(map[string]int)
	for _, m := range memberships {
		members[m.OrgUnitID]++
	}

	for _, u := range units {
		if u.Active {
			continue
		}
		if n := members[u.ID]; n > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"Inactive unit %q still holds %d membership(s)", u.Name, n))
		}
	}
}
