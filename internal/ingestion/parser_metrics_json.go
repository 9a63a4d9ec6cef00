package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/impactly/consolidator/internal/domain"
)

// metricsFile is the top-level JSON structure for metric observation
// reports.
type metricsFile struct {
	Period  string         `json:"period"`
	Records []metricsEntry `json:"records"`
}

type metricsEntry struct {
	TenantID     string  `json:"tenant_id"`
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Currency     string  `json:"currency"`
	SourceEvent  string  `json:"source_event,omitempty"`
	Counterparty string  `json:"counterparty,omitempty"`
	Tags         string  `json:"tags,omitempty"`
	RecordedAt   string  `json:"recorded_at,omitempty"`
}

// ParseMetricsJSON parses the JSON metric observation format.
func ParseMetricsJSON(data []byte) ([]domain.MetricSourceRecord, error) {
	var file metricsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if file.Period == "" {
		return nil, fmt.Errorf("missing period")
	}

	var records []domain.MetricSourceRecord
	for i, entry := range file.Records {
		if entry.TenantID == "" || entry.Metric == "" {
			return nil, fmt.Errorf("record %d: tenant_id and metric are required", i)
		}

		recordedAt := time.Now().UTC()
		if entry.RecordedAt != "" {
			t, err := time.Parse(time.RFC3339, entry.RecordedAt)
			if err != nil {
				return nil, fmt.Errorf("record %d recorded_at: %w", i, err)
			}
			recordedAt = t
		}

		meta := make(map[string]string)
		if entry.SourceEvent != "" {
			meta[domain.MetaSourceEvent] = entry.SourceEvent
		}
		if entry.Counterparty != "" {
			meta[domain.MetaCounterparty] = entry.Counterparty
		}
		if entry.Tags != "" {
			meta[domain.MetaTags] = entry.Tags
		}
		if len(meta) == 0 {
			meta = nil
		}

		records = append(records, domain.MetricSourceRecord{
			ID:         uuid.NewString(),
			TenantID:   entry.TenantID,
			Period:     file.Period,
			Metric:     entry.Metric,
			Value:      entry.Value,
			Currency:   entry.Currency,
			Metadata:   meta,
			RecordedAt: recordedAt,
		})
	}

	return records, nil
}
