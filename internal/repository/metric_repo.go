package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/impactly/consolidator/internal/domain"
)

// MetricSourceRepo stores raw per-tenant metric observations and the
// ingestion reports they arrived in.
type MetricSourceRepo struct {
	db *sql.DB
}

func NewMetricSourceRepo(db *sql.DB) *MetricSourceRepo {
	return &MetricSourceRepo{db: db}
}

func (r *MetricSourceRepo) BulkInsert(records []domain.MetricSourceRecord) (int, error) {
	inserted := 0
	sqlTx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.Prepare(
		`INSERT OR IGNORE INTO tenant_metric_sources
		(id, tenant_id, period, metric, value, currency, metadata, recorded_at)
		VALUES (?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		meta, err := marshalMeta(rec.Metadata)
		if err != nil {
			return inserted, fmt.Errorf("marshal metadata row %d: %w", i, err)
		}
		res, err := stmt.Exec(
			rec.ID, rec.TenantID, rec.Period, rec.Metric, rec.Value,
			rec.Currency, meta, rec.RecordedAt.Format(time.RFC3339),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert row %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// SourceRecords returns a tenant's raw observations for one metric and
// period, oldest first.
func (r *MetricSourceRepo) SourceRecords(tenantID, period, metric string) ([]domain.MetricSourceRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, tenant_id, period, metric, value, currency, metadata, recorded_at
		 FROM tenant_metric_sources
		 WHERE tenant_id = ? AND period = ? AND metric = ?
		 ORDER BY recorded_at, id`,
		tenantID, period, metric,
	)
	if err != nil {
		return nil, fmt.Errorf("query source records: %w", err)
	}
	defer rows.Close()

	var records []domain.MetricSourceRecord
	for rows.Next() {
		var rec domain.MetricSourceRecord
		var meta sql.NullString
		var recordedAt string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Period, &rec.Metric,
			&rec.Value, &rec.Currency, &meta, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan source record: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata %s: %w", rec.ID, err)
			}
		}
		rec.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *MetricSourceRepo) ReportExistsByHash(hash string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM metric_reports WHERE file_hash = ?`, hash,
	).Scan(&count)
	return count > 0, err
}

func (r *MetricSourceRepo) InsertReport(rep *domain.MetricReport) error {
	_, err := r.db.Exec(
		`INSERT INTO metric_reports (id, source, report_date, file_hash, record_count, ingested_at)
		 VALUES (?,?,?,?,?,?)`,
		rep.ID, rep.Source, rep.ReportDate.Format(time.RFC3339),
		rep.FileHash, rep.RecordCount, rep.IngestedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (r *MetricSourceRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM tenant_metric_sources`).Scan(&count)
	return count, err
}

func marshalMeta(meta map[string]string) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
