package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/impactly/consolidator/internal/domain"
)

// ParseRatesCSV parses the FX rate file format.
//
// Expected header:
//
//	id,base,quote,day,rate
//
// day is a calendar date (2006-01-02); rate is a decimal string, one
// unit of base expressed in quote.
func ParseRatesCSV(data []byte) ([]domain.FxRate, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 5 {
		return nil, fmt.Errorf("expected 5 columns, got %d", len(header))
	}

	var rates []domain.FxRate
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) < 5 {
			continue
		}

		day, err := time.Parse("2006-01-02", strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d day: %w", lineNum, err)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(row[4]))
		if err != nil {
			return nil, fmt.Errorf("line %d rate: %w", lineNum, err)
		}
		if rate.Sign() <= 0 {
			return nil, fmt.Errorf("line %d: rate must be positive", lineNum)
		}

		rates = append(rates, domain.FxRate{
			ID:    strings.TrimSpace(row[0]),
			Base:  strings.ToUpper(strings.TrimSpace(row[1])),
			Quote: strings.ToUpper(strings.TrimSpace(row[2])),
			Day:   day,
			Rate:  rate,
		})
	}

	return rates, nil
}
