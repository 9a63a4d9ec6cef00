package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/impactly/consolidator/internal/domain"
)

// AdjustmentRepo stores manual consolidation adjustments. The draft →
// published transition is the only update the table admits.
type AdjustmentRepo struct {
	db *sql.DB
}

func NewAdjustmentRepo(db *sql.DB) *AdjustmentRepo {
	return &AdjustmentRepo{db: db}
}

func (r *AdjustmentRepo) Insert(a *domain.Adjustment) error {
	_, err := r.db.Exec(
		`INSERT INTO adjustments
		(id, org_id, org_unit_id, period, metric, amount_base, currency, note,
		 status, created_at, published_by, published_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, nullableString(a.OrgUnitID), a.Period, a.Metric,
		a.AmountBase, a.Currency, a.Note, string(a.Status),
		a.CreatedAt.Format(time.RFC3339), nullableString(a.PublishedBy),
		formatNullableTime(a.PublishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

func (r *AdjustmentRepo) GetByID(id string) (*domain.Adjustment, error) {
	row := r.db.QueryRow(
		`SELECT id, org_id, org_unit_id, period, metric, amount_base, currency,
		        note, status, created_at, published_by, published_at
		 FROM adjustments WHERE id = ?`, id,
	)
	a, err := scanAdjustmentRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get adjustment: %w", err)
	}
	return a, nil
}

// PublishedByOrgPeriod returns only published adjustments for the org
// and period, in creation order.
func (r *AdjustmentRepo) PublishedByOrgPeriod(orgID, period string) ([]domain.Adjustment, error) {
	return r.list(
		`SELECT id, org_id, org_unit_id, period, metric, amount_base, currency,
		        note, status, created_at, published_by, published_at
		 FROM adjustments
		 WHERE org_id = ? AND period = ? AND status = 'published'
		 ORDER BY created_at, id`, orgID, period)
}

// ByOrg returns all of an org's adjustments regardless of status.
func (r *AdjustmentRepo) ByOrg(orgID string) ([]domain.Adjustment, error) {
	return r.list(
		`SELECT id, org_id, org_unit_id, period, metric, amount_base, currency,
		        note, status, created_at, published_by, published_at
		 FROM adjustments WHERE org_id = ? ORDER BY created_at, id`, orgID)
}

// MarkPublished transitions a draft to published. The status guard in
// the WHERE clause makes a double publish a no-op at the storage layer;
// the engine has already rejected it by then.
func (r *AdjustmentRepo) MarkPublished(id, publishedBy string, publishedAt time.Time) error {
	res, err := r.db.Exec(
		`UPDATE adjustments SET status = 'published', published_by = ?, published_at = ?
		 WHERE id = ? AND status = 'draft'`,
		publishedBy, publishedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("publish adjustment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("publish adjustment %s: no draft row updated", id)
	}
	return nil
}

func (r *AdjustmentRepo) list(query string, args ...any) ([]domain.Adjustment, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var out []domain.Adjustment
	for rows.Next() {
		a, err := scanAdjustmentRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAdjustmentRow(scan func(...any) error) (*domain.Adjustment, error) {
	var a domain.Adjustment
	var unitID, publishedBy, publishedAt sql.NullString
	var status, createdAt string

	err := scan(&a.ID, &a.OrgID, &unitID, &a.Period, &a.Metric, &a.AmountBase,
		&a.Currency, &a.Note, &status, &createdAt, &publishedBy, &publishedAt)
	if err != nil {
		return nil, err
	}

	a.OrgUnitID = unitID.String
	a.Status = domain.AdjustmentStatus(status)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.PublishedBy = publishedBy.String
	if publishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, publishedAt.String)
		a.PublishedAt = &t
	}
	return &a, nil
}
