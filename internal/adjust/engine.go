// Package adjust applies published manual corrections and owns the
// draft -> published adjustment lifecycle.
package adjust

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/impactly/consolidator/internal/domain"
)

// ErrAdjustmentImmutable is returned when a published adjustment is
// re-validated or re-published. Re-validation always failing is the
// mechanism enforcing immutability, not a database constraint.
var ErrAdjustmentImmutable = errors.New("adjustment already published")

// Store is the engine's view of adjustment persistence.
type Store interface {
	GetByID(id string) (*domain.Adjustment, error)
	PublishedByOrgPeriod(orgID, period string) ([]domain.Adjustment, error)
	MarkPublished(id, publishedBy string, publishedAt time.Time) error
}

// Application is one published adjustment mapped into the pipeline.
type Application struct {
	AdjustmentID string  `json:"adjustment_id"`
	OrgUnitID    string  `json:"org_unit_id,omitempty"`
	Metric       string  `json:"metric"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Note         string  `json:"note"`
}

// ValidationResult reports whether an adjustment may be published.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Apply maps every published adjustment for the org and period into an
// application record. Drafts never reach a run.
func (e *Engine) Apply(orgID, period string) ([]Application, error) {
	adjustments, err := e.store.PublishedByOrgPeriod(orgID, period)
	if err != nil {
		return nil, fmt.Errorf("load published adjustments: %w", err)
	}

	apps := make([]Application, 0, len(adjustments))
	for _, a := range adjustments {
		apps = append(apps, Application{
			AdjustmentID: a.ID,
			OrgUnitID:    a.OrgUnitID,
			Metric:       a.Metric,
			Amount:       a.AmountBase,
			Currency:     a.Currency,
			Note:         a.Note,
		})
	}
	return apps, nil
}

// ValidateAdjustment checks, in order: note non-empty, metric
// non-empty, amount non-zero, not already published. A published
// adjustment always fails with an "already published" error.
func (e *Engine) ValidateAdjustment(id string) (*ValidationResult, error) {
	a, err := e.store.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("load adjustment: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("adjustment %s not found", id)
	}
	return validate(a), nil
}

func validate(a *domain.Adjustment) *ValidationResult {
	res := &ValidationResult{Valid: true}
	if strings.TrimSpace(a.Note) == "" {
		res.Errors = append(res.Errors, "note must not be empty")
	}
	if strings.TrimSpace(a.Metric) == "" {
		res.Errors = append(res.Errors, "metric must not be empty")
	}
	if a.AmountBase == 0 {
		res.Errors = append(res.Errors, "amount must not be zero")
	}
	if a.Published() {
		res.Errors = append(res.Errors, "adjustment is already published and immutable")
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// PublishAdjustment re-runs validation and, on success, transitions the
// draft to published with publisher and timestamp. A failed validation
// raises with the joined errors; publishing a published adjustment
// leaves it unchanged. There is no unpublish.
func (e *Engine) PublishAdjustment(id, publishedBy string) (*domain.Adjustment, error) {
	a, err := e.store.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("load adjustment: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("adjustment %s not found", id)
	}

	if res := validate(a); !res.Valid {
		if a.Published() {
			return nil, fmt.Errorf("publish %s: %w", id, ErrAdjustmentImmutable)
		}
		return nil, fmt.Errorf("publish %s: %s", id, strings.Join(res.Errors, "; "))
	}

	now := time.Now().UTC()
	if err := e.store.MarkPublished(id, publishedBy, now); err != nil {
		return nil, err
	}

	a.Status = domain.AdjustmentPublished
	a.PublishedBy = publishedBy
	a.PublishedAt = &now
	return a, nil
}
