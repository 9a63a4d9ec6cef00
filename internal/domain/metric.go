package domain

import "time"

// Metadata keys attached to metric values as they move through the
// pipeline. Collection carries source keys through; FX conversion adds
// the original_* and fx_rate_id keys for lineage.
const (
	MetaSourceEvent      = "source_event"
	MetaCounterparty     = "counterparty"
	MetaTags             = "tags"
	MetaOriginalValue    = "original_value"
	MetaOriginalCurrency = "original_currency"
	MetaFxRateID         = "fx_rate_id"
	MetaEliminatedBy     = "eliminated_by"
)

// TenantMetricData is one tenant's value for one metric in one period.
// Immutable once collected for a run; downstream stages produce new
// snapshots rather than mutating collected data.
type TenantMetricData struct {
	TenantID string            `json:"tenant_id"`
	Period   string            `json:"period"`
	Metric   string            `json:"metric"`
	Value    float64           `json:"value"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CloneMeta returns a copy of the metric with its metadata map
// duplicated, so a stage can annotate without touching the input
// snapshot.
func (m TenantMetricData) CloneMeta() TenantMetricData {
	out := m
	out.Metadata = make(map[string]string, len(m.Metadata)+2)
	for k, v := range m.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// MetricSourceRecord is a raw observation reported by a tenant's source
// system, before any per-metric calculation.
type MetricSourceRecord struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Period     string            `json:"period"`
	Metric     string            `json:"metric"`
	Value      float64           `json:"value"`
	Currency   string            `json:"currency"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// MetricReport tracks an ingested source file for idempotency.
type MetricReport struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	ReportDate  time.Time `json:"report_date"`
	FileHash    string    `json:"file_hash"`
	RecordCount int       `json:"record_count"`
	IngestedAt  time.Time `json:"ingested_at"`
}
