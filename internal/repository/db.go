package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orgs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS org_units (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			parent_id TEXT,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (org_id) REFERENCES orgs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_org_units_org ON org_units(org_id)`,

		`CREATE TABLE IF NOT EXISTS org_unit_memberships (
			org_unit_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			percent_share REAL NOT NULL,
			PRIMARY KEY (org_unit_id, member_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_member ON org_unit_memberships(member_id)`,

		`CREATE TABLE IF NOT EXISTS metric_reports (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			report_date DATETIME NOT NULL,
			file_hash TEXT UNIQUE NOT NULL,
			record_count INTEGER NOT NULL,
			ingested_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tenant_metric_sources (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			period TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			currency TEXT NOT NULL,
			metadata TEXT,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_sources_scope
			ON tenant_metric_sources(tenant_id, period, metric)`,

		`CREATE TABLE IF NOT EXISTS fx_rates (
			id TEXT PRIMARY KEY,
			base TEXT NOT NULL,
			quote TEXT NOT NULL,
			day DATETIME NOT NULL,
			rate TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fx_rates_pair_day ON fx_rates(base, quote, day)`,

		`CREATE TABLE IF NOT EXISTS elimination_rules (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			type TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			description TEXT,
			source_event TEXT,
			tenant_a TEXT,
			tenant_b TEXT,
			tag TEXT,
			metric TEXT,
			amount REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_elimination_rules_org ON elimination_rules(org_id)`,

		`CREATE TABLE IF NOT EXISTS adjustments (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			org_unit_id TEXT,
			period TEXT NOT NULL,
			metric TEXT NOT NULL,
			amount_base REAL NOT NULL,
			currency TEXT NOT NULL,
			note TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			created_at DATETIME NOT NULL,
			published_by TEXT,
			published_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustments_org_period ON adjustments(org_id, period)`,

		`CREATE TABLE IF NOT EXISTS consolidation_runs (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			period TEXT NOT NULL,
			base_currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		// At most one non-terminal run per (org, period).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_in_flight
			ON consolidation_runs(org_id, period)
			WHERE status IN ('pending', 'running')`,

		`CREATE TABLE IF NOT EXISTS consolidated_facts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			org_unit_id TEXT NOT NULL,
			period TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			currency TEXT NOT NULL,
			lineage TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES consolidation_runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_org ON consolidated_facts(org_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_period ON consolidated_facts(period)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_metric ON consolidated_facts(metric)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}
