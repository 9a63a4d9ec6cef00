// Package fx normalizes metric values into a run's base currency using
// the append-only exchange-rate series.
package fx

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/impactly/consolidator/internal/domain"
)

// ErrRateNotFound means no direct or inverse rate row exists for a
// required (from, to, date) triple. A missing rate is fatal for the
// whole conversion step.
var ErrRateNotFound = errors.New("fx rate not found")

// RateSource is the converter's view of rate storage. LatestRate
// returns the most recent row with day <= the given date, or nil.
type RateSource interface {
	LatestRate(base, quote string, day time.Time) (*domain.FxRate, error)
}

// Conversion is the result of a single-value conversion.
type Conversion struct {
	Amount          float64         `json:"amount"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	Rate            decimal.Decimal `json:"rate"`
	ConvertedAmount float64         `json:"converted_amount"`
	RateID          string          `json:"rate_id,omitempty"`
}

// Converter resolves rates and tracks every rate used, deduplicated by
// id, for audit attachment to the run's facts.
type Converter struct {
	rates     RateSource
	used      []domain.FxRate
	usedIndex map[string]bool
}

func NewConverter(rates RateSource) *Converter {
	return &Converter{
		rates:     rates,
		usedIndex: make(map[string]bool),
	}
}

// ConvertToBase returns a new snapshot with every value expressed in
// baseCurrency. Same-currency values pass through unchanged with no
// lookup. Each converted value keeps its original value and currency in
// metadata for lineage.
func (c *Converter) ConvertToBase(metrics []domain.TenantMetricData,
	baseCurrency string, rateDate time.Time) ([]domain.TenantMetricData, error) {

	out := make([]domain.TenantMetricData, 0, len(metrics))
	for _, m := range metrics {
		if m.Currency == baseCurrency {
			out = append(out, m)
			continue
		}

		rate, rateID, err := c.resolveRate(m.Currency, baseCurrency, rateDate)
		if err != nil {
			return nil, fmt.Errorf("convert %s/%s from %s to %s: %w",
				m.TenantID, m.Metric, m.Currency, baseCurrency, err)
		}

		converted := m.CloneMeta()
		converted.Metadata[domain.MetaOriginalValue] = strconv.FormatFloat(m.Value, 'f', -1, 64)
		converted.Metadata[domain.MetaOriginalCurrency] = m.Currency
		converted.Metadata[domain.MetaFxRateID] = rateID
		converted.Value, _ = decimal.NewFromFloat(m.Value).Mul(rate).Float64()
		converted.Currency = baseCurrency
		out = append(out, converted)
	}
	return out, nil
}

// Convert performs a single-value, ad hoc conversion (e.g. previewing
// an adjustment amount) using the same resolution order as the
// pipeline.
func (c *Converter) Convert(amount float64, from, to string, day time.Time) (*Conversion, error) {
	if from == to {
		return &Conversion{
			Amount:          amount,
			From:            from,
			To:              to,
			Rate:            decimal.NewFromInt(1),
			ConvertedAmount: amount,
		}, nil
	}

	rate, rateID, err := c.resolveRate(from, to, day)
	if err != nil {
		return nil, err
	}
	converted, _ := decimal.NewFromFloat(amount).Mul(rate).Float64()
	return &Conversion{
		Amount:          amount,
		From:            from,
		To:              to,
		Rate:            rate,
		ConvertedAmount: converted,
		RateID:          rateID,
	}, nil
}

// UsedRates returns every rate row the converter resolved, in first-use
// order, deduplicated by id.
func (c *Converter) UsedRates() []domain.FxRate {
	return c.used
}

// resolveRate resolves from->to in fixed order: direct row, then
// inverse row with rate = 1/rate. Cross-rate resolution via a common
// currency is deliberately not implemented; a pair with no direct or
// inverse row fails with ErrRateNotFound.
func (c *Converter) resolveRate(from, to string, day time.Time) (decimal.Decimal, string, error) {
	direct, err := c.rates.LatestRate(from, to, day)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("lookup %s/%s: %w", from, to, err)
	}
	if direct != nil {
		c.recordUse(direct)
		return direct.Rate, direct.ID, nil
	}

	inverse, err := c.rates.LatestRate(to, from, day)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("lookup %s/%s: %w", to, from, err)
	}
	if inverse != nil {
		c.recordUse(inverse)
		return decimal.NewFromInt(1).Div(inverse.Rate), inverse.ID, nil
	}

	return decimal.Zero, "", fmt.Errorf("%w: %s -> %s as of %s",
		ErrRateNotFound, from, to, day.Format("2006-01-02"))
}

func (c *Converter) recordUse(rate *domain.FxRate) {
	if c.usedIndex[rate.ID] {
		return
	}
	c.usedIndex[rate.ID] = true
	c.used = append(c.used, *rate)
}
