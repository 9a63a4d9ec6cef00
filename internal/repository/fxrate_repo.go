package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/impactly/consolidator/internal/domain"
)

// FxRateRepo stores the append-only exchange-rate series. Rates are
// persisted as decimal strings so no precision is lost round-tripping.
type FxRateRepo struct {
	db *sql.DB
}

func NewFxRateRepo(db *sql.DB) *FxRateRepo {
	return &FxRateRepo{db: db}
}

func (r *FxRateRepo) Insert(rate *domain.FxRate) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO fx_rates (id, base, quote, day, rate) VALUES (?,?,?,?,?)`,
		rate.ID, rate.Base, rate.Quote, rate.Day.Format(time.RFC3339), rate.Rate.String(),
	)
	if err != nil {
		return fmt.Errorf("insert fx rate: %w", err)
	}
	return nil
}

func (r *FxRateRepo) BulkInsert(rates []domain.FxRate) (int, error) {
	inserted := 0
	sqlTx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.Prepare(
		`INSERT OR IGNORE INTO fx_rates (id, base, quote, day, rate) VALUES (?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range rates {
		rt := &rates[i]
		res, err := stmt.Exec(rt.ID, rt.Base, rt.Quote, rt.Day.Format(time.RFC3339), rt.Rate.String())
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

// LatestRate returns the most recent rate row for (base, quote) with
// day <= the given date, or nil when no such row exists. Future-dated
// rows never match.
func (r *FxRateRepo) LatestRate(base, quote string, day time.Time) (*domain.FxRate, error) {
	row := r.db.QueryRow(
		`SELECT id, base, quote, day, rate FROM fx_rates
		 WHERE base = ? AND quote = ? AND day <= ?
		 ORDER BY day DESC LIMIT 1`,
		base, quote, day.Format(time.RFC3339),
	)

	var rate domain.FxRate
	var dayStr, rateStr string
	err := row.Scan(&rate.ID, &rate.Base, &rate.Quote, &dayStr, &rateStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fx rate: %w", err)
	}

	rate.Day, _ = time.Parse(time.RFC3339, dayStr)
	rate.Rate, err = decimal.NewFromString(rateStr)
	if err != nil {
		return nil, fmt.Errorf("parse rate %s: %w", rate.ID, err)
	}
	return &rate, nil
}

func (r *FxRateRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM fx_rates`).Scan(&count)
	return count, err
}
