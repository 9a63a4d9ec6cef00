package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/impactly/consolidator/internal/domain"
)

// ParseMetricsCSV parses the CSV metric observation format.
//
// Expected header:
//
//	tenant_id,period,metric,value,currency,source_event,counterparty,tags
//
// The last three columns are optional per row and feed elimination
// matching.
func ParseMetricsCSV(data []byte) ([]domain.MetricSourceRecord, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 5 {
		return nil, fmt.Errorf("expected at least 5 columns, got %d", len(header))
	}

	var records []domain.MetricSourceRecord
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

		value, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d value: %w", lineNum, err)
		}

		meta := make(map[string]string)
		if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
			meta[domain.MetaSourceEvent] = strings.TrimSpace(row[5])
		}
		if len(row) > 6 && strings.TrimSpace(row[6]) != "" {
			meta[domain.MetaCounterparty] = strings.TrimSpace(row[6])
		}
		if len(row) > 7 && strings.TrimSpace(row[7]) != "" {
			meta[domain.MetaTags] = strings.TrimSpace(row[7])
		}
		if len(meta) == 0 {
			meta = nil
		}

		records = append(records, domain.MetricSourceRecord{
			ID:         uuid.NewString(),
			TenantID:   strings.TrimSpace(row[0]),
			Period:     strings.TrimSpace(row[1]),
			Metric:     strings.TrimSpace(row[2]),
			Value:      value,
			Currency:   strings.ToUpper(strings.TrimSpace(row[4])),
			Metadata:   meta,
			RecordedAt: time.Now().UTC(),
		})
	}

	return records, nil
}
