package domain

import "time"

// Org is the parent organization a consolidation run targets.
type Org struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// OrgUnit is a node in an org's internal reporting hierarchy
// (division, subsidiary, shared program). Units form a forest per org;
// a unit with an empty ParentID is a root.
type OrgUnit struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// ShareTolerance is the allowed deviation from 100 when summing the
// percent shares of a unit's direct memberships.
const ShareTolerance = 0.01

// OrgUnitMembership records a member's fractional participation in an
// org unit's rollup. MemberID is either a tenant id or a child unit id;
// a member may belong to multiple units with fractional shares.
type OrgUnitMembership struct {
	OrgUnitID    string  `json:"org_unit_id"`
	MemberID     string  `json:"member_id"`
	PercentShare float64 `json:"percent_share"`
}
