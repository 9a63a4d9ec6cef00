package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FxRate is one row of the append-only exchange-rate series: the value
// of one unit of Base expressed in Quote, effective on Day. Lookups are
// as-of — the latest row with day <= the requested date wins, never a
// future-dated row.
type FxRate struct {
	ID    string          `json:"id"`
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Day   time.Time       `json:"day"`
	Rate  decimal.Decimal `json:"rate"`
}
