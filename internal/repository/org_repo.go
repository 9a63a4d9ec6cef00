package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/impactly/consolidator/internal/domain"
)

// OrgRepo provides access to orgs, their units, and unit memberships.
// All three are read-only to the pipeline; writes exist for seeding and
// ingestion.
type OrgRepo struct {
	db *sql.DB
}

func NewOrgRepo(db *sql.DB) *OrgRepo {
	return &OrgRepo{db: db}
}

func (r *OrgRepo) InsertOrg(org *domain.Org) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO orgs (id, name, active, created_at) VALUES (?,?,?,?)`,
		org.ID, org.Name, boolToInt(org.Active), org.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert org: %w", err)
	}
	return nil
}

func (r *OrgRepo) GetOrg(id string) (*domain.Org, error) {
	var org domain.Org
	var active int
	var createdAt string
	err := r.db.QueryRow(
		`SELECT id, name, active, created_at FROM orgs WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get org: %w", err)
	}
	org.Active = active != 0
	org.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &org, nil
}

func (r *OrgRepo) InsertUnit(u *domain.OrgUnit) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO org_units (id, org_id, parent_id, name, active) VALUES (?,?,?,?,?)`,
		u.ID, u.OrgID, nullableString(u.ParentID), u.Name, boolToInt(u.Active),
	)
	if err != nil {
		return fmt.Errorf("insert org unit: %w", err)
	}
	return nil
}

// UnitsByOrg returns every unit of the org, roots first by id for
// deterministic output.
func (r *OrgRepo) UnitsByOrg(orgID string) ([]domain.OrgUnit, error) {
	rows, err := r.db.Query(
		`SELECT id, org_id, parent_id, name, active FROM org_units
		 WHERE org_id = ? ORDER BY parent_id IS NOT NULL, id`, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var units []domain.OrgUnit
	for rows.Next() {
		var u domain.OrgUnit
		var parent sql.NullString
		var active int
		if err := rows.Scan(&u.ID, &u.OrgID, &parent, &u.Name, &active); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.ParentID = parent.String
		u.Active = active != 0
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *OrgRepo) InsertMembership(m *domain.OrgUnitMembership) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO org_unit_memberships (org_unit_id, member_id, percent_share)
		 VALUES (?,?,?)`,
		m.OrgUnitID, m.MemberID, m.PercentShare,
	)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// MembershipsByOrg returns all memberships of the org's units.
func (r *OrgRepo) MembershipsByOrg(orgID string) ([]domain.OrgUnitMembership, error) {
	rows, err := r.db.Query(
		`SELECT m.org_unit_id, m.member_id, m.percent_share
		 FROM org_unit_memberships m
		 JOIN org_units u ON u.id = m.org_unit_id
		 WHERE u.org_id = ?
		 ORDER BY m.org_unit_id, m.member_id`, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var ms []domain.OrgUnitMembership
	for rows.Next() {
		var m domain.OrgUnitMembership
		if err := rows.Scan(&m.OrgUnitID, &m.MemberID, &m.PercentShare); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

func (r *OrgRepo) CountOrgs() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM orgs`).Scan(&count)
	return count, err
}

// --- helpers shared by the repos ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
