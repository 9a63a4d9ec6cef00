package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/impactly/consolidator/internal/domain"
)

// RunRepo stores consolidation runs. The partial unique index on
// (org_id, period) for non-terminal statuses makes Insert fail when a
// run is already in flight for the pair.
type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) Insert(run *domain.ConsolidationRun) error {
	_, err := r.db.Exec(
		`INSERT INTO consolidation_runs
		(id, org_id, period, base_currency, status, created_by, error, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.OrgID, run.Period, run.BaseCurrency, string(run.Status),
		run.CreatedBy, nullableString(run.Error),
		run.StartedAt.Format(time.RFC3339), formatNullableTime(run.FinishedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("run already in flight for %s/%s: %w", run.OrgID, run.Period, err)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateStatus moves a run along the state machine. Illegal transitions
// (including touching a terminal run) are rejected.
func (r *RunRepo) UpdateStatus(id string, next domain.RunStatus, errMsg string) error {
	run, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}
	if !run.Status.CanTransitionTo(next) {
		return fmt.Errorf("run %s: illegal transition %s -> %s", id, run.Status, next)
	}

	var finishedAt any
	if next.IsTerminal() {
		finishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err = r.db.Exec(
		`UPDATE consolidation_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(next), nullableString(errMsg), finishedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

func (r *RunRepo) GetByID(id string) (*domain.ConsolidationRun, error) {
	row := r.db.QueryRow(
		`SELECT id, org_id, period, base_currency, status, created_by, error, started_at, finished_at
		 FROM consolidation_runs WHERE id = ?`, id,
	)
	run, err := scanRunRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *RunRepo) ByOrg(orgID string) ([]domain.ConsolidationRun, error) {
	rows, err := r.db.Query(
		`SELECT id, org_id, period, base_currency, status, created_by, error, started_at, finished_at
		 FROM consolidation_runs WHERE org_id = ? ORDER BY started_at DESC, id`, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ConsolidationRun
	for rows.Next() {
		run, err := scanRunRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRunRow(scan func(...any) error) (*domain.ConsolidationRun, error) {
	var run domain.ConsolidationRun
	var status, startedAt string
	var errMsg, finishedAt sql.NullString

	err := scan(&run.ID, &run.OrgID, &run.Period, &run.BaseCurrency, &status,
		&run.CreatedBy, &errMsg, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.Error = errMsg.String
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}
