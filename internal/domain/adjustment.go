package domain

import "time"

type AdjustmentStatus string

const (
	AdjustmentDraft     AdjustmentStatus = "draft"
	AdjustmentPublished AdjustmentStatus = "published"
)

// Adjustment is a manually entered correction. It starts as a draft
// (mutable, validatable) and may be published exactly once; a published
// adjustment is permanently immutable and only published adjustments
// are ever applied to a run.
type Adjustment struct {
	ID          string           `json:"id"`
	OrgID       string           `json:"org_id"`
	OrgUnitID   string           `json:"org_unit_id,omitempty"`
	Period      string           `json:"period"`
	Metric      string           `json:"metric"`
	AmountBase  float64          `json:"amount_base"`
	Currency    string           `json:"currency"`
	Note        string           `json:"note"`
	Status      AdjustmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	PublishedBy string           `json:"published_by,omitempty"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

func (a *Adjustment) Published() bool {
	return a.Status == AdjustmentPublished
}
