package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/impactly/consolidator/internal/domain"
)

// FactRepo stores consolidated facts. Writes happen only through
// ReplaceForPeriod, which swaps the whole (org, period) fact set in one
// transaction so readers never see a mix of old and new facts.
type FactRepo struct {
	db *sql.DB
}

func NewFactRepo(db *sql.DB) *FactRepo {
	return &FactRepo{db: db}
}

// ReplaceForPeriod deletes the existing facts for (orgID, period) and
// inserts the new set, all-or-nothing.
func (r *FactRepo) ReplaceForPeriod(orgID, period string, facts []domain.ConsolidatedFact) error {
	sqlTx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.Exec(
		`DELETE FROM consolidated_facts WHERE org_id = ? AND period = ?`, orgID, period,
	); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}

	stmt, err := sqlTx.Prepare(
		`INSERT INTO consolidated_facts
		(id, run_id, org_id, org_unit_id, period, metric, value, currency, lineage)
		VALUES (?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range facts {
		f := &facts[i]
		lineage, err := json.Marshal(f.Lineage)
		if err != nil {
			return fmt.Errorf("marshal lineage row %d: %w", i, err)
		}
		if _, err := stmt.Exec(f.ID, f.RunID, f.OrgID, f.OrgUnitID, f.Period,
			f.Metric, f.Value, f.Currency, string(lineage)); err != nil {
			return fmt.Errorf("insert fact row %d: %w", i, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FactFilter narrows List output. Every field is optional and the
// fields combine independently.
type FactFilter struct {
	OrgID  string
	Period string
	Metric string
}

// List returns facts matching the filter, ordered by unit then metric
// for stable output.
func (r *FactRepo) List(f FactFilter) ([]domain.ConsolidatedFact, error) {
	where, args := buildFactWhere(f)

	rows, err := r.db.Query(
		`SELECT id, run_id, org_id, org_unit_id, period, metric, value, currency, lineage
		 FROM consolidated_facts`+where+` ORDER BY org_id, period, org_unit_id, metric`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []domain.ConsolidatedFact
	for rows.Next() {
		var fact domain.ConsolidatedFact
		var lineage string
		if err := rows.Scan(&fact.ID, &fact.RunID, &fact.OrgID, &fact.OrgUnitID,
			&fact.Period, &fact.Metric, &fact.Value, &fact.Currency, &lineage); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if err := json.Unmarshal([]byte(lineage), &fact.Lineage); err != nil {
			return nil, fmt.Errorf("unmarshal lineage %s: %w", fact.ID, err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func buildFactWhere(f FactFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.OrgID != "" {
		clauses = append(clauses, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.Period != "" {
		clauses = append(clauses, "period = ?")
		args = append(args, f.Period)
	}
	if f.Metric != "" {
		clauses = append(clauses, "metric = ?")
		args = append(args, f.Metric)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
