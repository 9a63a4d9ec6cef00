// Package consolidation sequences hierarchy validation, metric
// collection, currency conversion, elimination, adjustment application,
// and rollup into a single audited run.
package consolidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactly/consolidator/internal/adjust"
	"github.com/impactly/consolidator/internal/collect"
	"github.com/impactly/consolidator/internal/domain"
	"github.com/impactly/consolidator/internal/eliminate"
	"github.com/impactly/consolidator/internal/fx"
	"github.com/impactly/consolidator/internal/hierarchy"
	"github.com/impactly/consolidator/internal/repository"
	"github.com/impactly/consolidator/internal/rollup"
)

// OrgStore is the orchestrator's view of org and hierarchy storage.
type OrgStore interface {
	GetOrg(id string) (*domain.Org, error)
	UnitsByOrg(orgID string) ([]domain.OrgUnit, error)
	MembershipsByOrg(orgID string) ([]domain.OrgUnitMembership, error)
}

// RunStore persists run records and their state transitions.
type RunStore interface {
	Insert(run *domain.ConsolidationRun) error
	UpdateStatus(id string, next domain.RunStatus, errMsg string) error
	GetByID(id string) (*domain.ConsolidationRun, error)
	ByOrg(orgID string) ([]domain.ConsolidationRun, error)
}

// FactStore persists consolidated facts atomically per (org, period).
type FactStore interface {
	ReplaceForPeriod(orgID, period string, facts []domain.ConsolidatedFact) error
	List(f repository.FactFilter) ([]domain.ConsolidatedFact, error)
}

// RuleStore loads an org's elimination rules.
type RuleStore interface {
	ByOrg(orgID string) ([]domain.EliminationRule, error)
}

// Result summarises a completed run for the caller. UsedRates is the
// audit list of FX rates the run resolved; it is exposed here, not
// persisted separately (each fact's lineage carries the rate ids).
type Result struct {
	Run          *domain.ConsolidationRun `json:"run"`
	FactCount    int                      `json:"fact_count"`
	UsedRates    []domain.FxRate          `json:"used_rates"`
	RulesApplied []string                 `json:"rules_applied"`
	Adjustments  []string                 `json:"adjustments_applied"`
	Validation   *hierarchy.Result        `json:"validation"`
}

// Service is the consolidation orchestrator.
type Service struct {
	orgs      OrgStore
	runs      RunStore
	facts     FactStore
	rules     RuleStore
	rates     fx.RateSource
	collector *collect.Collector
	adjuster  *adjust.Engine

	metrics      []string
	aggregations map[string]rollup.Aggregation
	log          *logrus.Logger
}

func NewService(orgs OrgStore, runs RunStore, facts FactStore, rules RuleStore,
	rates fx.RateSource, collector *collect.Collector, adjuster *adjust.Engine,
	log *logrus.Logger) *Service {
	return &Service{
		orgs:         orgs,
		runs:         runs,
		facts:        facts,
		rules:        rules,
		rates:        rates,
		collector:    collector,
		adjuster:     adjuster,
		metrics:      []string{"donations", "revenue", "beneficiaries"},
		aggregations: make(map[string]rollup.Aggregation),
		log:          log,
	}
}

// SetMetrics replaces the default metric set collected per run.
func (s *Service) SetMetrics(metrics []string) {
	if len(metrics) > 0 {
		s.metrics = metrics
	}
}

// SetAggregation selects the rollup aggregation for a metric
// (default SUM).
func (s *Service) SetAggregation(metric string, agg rollup.Aggregation) {
	s.aggregations[metric] = agg
}

// Execute runs the full pipeline for one (org, period) pair.
//
// State machine: pending -> running -> {completed, failed}, terminal
// set exactly once. Pre-flight org checks fail before any run record
// exists. Every failure after run creation resolves the run to failed
// with the error message retained.
func (s *Service) Execute(cfg domain.ConsolidationConfig, actor string, metrics []string) (*Result, error) {
	org, err := s.orgs.GetOrg(cfg.OrgID)
	if err != nil {
		return nil, fmt.Errorf("pre-flight org lookup: %w", err)
	}
	if org == nil {
		return nil, fmt.Errorf("org %s: %w", cfg.OrgID, ErrOrgNotFound)
	}
	if !org.Active {
		return nil, fmt.Errorf("org %s: %w", cfg.OrgID, ErrOrgInactive)
	}

	run := &domain.ConsolidationRun{
		ID:           uuid.NewString(),
		OrgID:        cfg.OrgID,
		Period:       cfg.Period,
		BaseCurrency: cfg.BaseCurrency,
		Status:       domain.RunPending,
		CreatedBy:    actor,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.runs.Insert(run); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunInFlight, err)
	}
	if err := s.runs.UpdateStatus(run.ID, domain.RunRunning, ""); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	run.Status = domain.RunRunning

	log := s.log.WithFields(logrus.Fields{
		"component": "consolidation",
		"run":       run.ID,
		"org":       cfg.OrgID,
		"period":    cfg.Period,
	})
	log.Info("run started")

	res, err := s.pipeline(run, cfg, metrics, log)
	if err != nil {
		s.fail(run, err, log)
		return nil, err
	}

	if err := s.runs.UpdateStatus(run.ID, domain.RunCompleted, ""); err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}
	run.Status = domain.RunCompleted
	log.WithField("facts", res.FactCount).Info("run completed")
	return res, nil
}

// pipeline executes the staged algorithm. Each stage consumes only the
// prior stage's output; any hard failure aborts the run.
func (s *Service) pipeline(run *domain.ConsolidationRun, cfg domain.ConsolidationConfig,
	metrics []string, log *logrus.Entry) (*Result, error) {

	units, err := s.orgs.UnitsByOrg(cfg.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	memberships, err := s.orgs.MembershipsByOrg(cfg.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}

	// Stage 1: hierarchy validation. Errors are aggregated, never
	// first-error-wins.
	vres := hierarchy.Validate(units, memberships)
	if !vres.Valid {
		msgs := make([]string, 0, len(vres.Errors))
		for _, e := range vres.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Code, e.Message))
		}
		return nil, fmt.Errorf("%w: %s", ErrHierarchyInvalid, strings.Join(msgs, "; "))
	}
	log.WithField("units", vres.Stats.TotalUnits).Info("hierarchy validated")

	// Stage 2: collection.
	if len(metrics) == 0 {
		metrics = s.metrics
	}
	collected, err := s.collector.Collect(cfg.OrgID, cfg.Period, metrics, units, memberships)
	if err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	// Stage 3: FX normalization. Missing rates are fatal.
	converter := fx.NewConverter(s.rates)
	converted, err := converter.ConvertToBase(collected, cfg.BaseCurrency, periodRateDate(cfg.Period))
	if err != nil {
		return nil, err
	}

	// Stage 4: intercompany elimination.
	rules, err := s.rules.ByOrg(cfg.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load elimination rules: %w", err)
	}
	eliminated, ruleIDs, err := eliminate.Apply(cfg.OrgID, cfg.Period, converted, rules)
	if err != nil {
		return nil, err
	}

	// Stage 5: published adjustments.
	apps, err := s.adjuster.Apply(cfg.OrgID, cfg.Period)
	if err != nil {
		return nil, err
	}
	rootID := firstRootID(units)
	direct := make([]rollup.DirectAmount, 0, len(apps))
	adjustmentIDs := make([]string, 0, len(apps))
	for _, app := range apps {
		unitID := app.OrgUnitID
		if unitID == "" {
			unitID = rootID
		}
		direct = append(direct, rollup.DirectAmount{
			OrgUnitID: unitID,
			Metric:    app.Metric,
			Value:     app.Amount,
		})
		adjustmentIDs = append(adjustmentIDs, app.AdjustmentID)
	}

	// Stage 6: bottom-up rollup.
	unitValues, err := rollup.Aggregate(units, memberships, eliminated, direct, s.aggregations)
	if err != nil {
		return nil, fmt.Errorf("rollup: %w", err)
	}

	// Stage 7: atomic fact persistence.
	usedRates := converter.UsedRates()
	lineage := domain.Lineage{
		EliminationRuleIDs: ruleIDs,
		AdjustmentIDs:      adjustmentIDs,
	}
	for _, r := range usedRates {
		lineage.FxRateIDs = append(lineage.FxRateIDs, r.ID)
	}

	facts := make([]domain.ConsolidatedFact, 0, len(unitValues))
	for _, uv := range unitValues {
		facts = append(facts, domain.ConsolidatedFact{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			OrgID:     cfg.OrgID,
			OrgUnitID: uv.OrgUnitID,
			Period:    cfg.Period,
			Metric:    uv.Metric,
			Value:     uv.Value,
			Currency:  cfg.BaseCurrency,
			Lineage:   lineage,
		})
	}
	if err := s.facts.ReplaceForPeriod(cfg.OrgID, cfg.Period, facts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	return &Result{
		Run:          run,
		FactCount:    len(facts),
		UsedRates:    usedRates,
		RulesApplied: ruleIDs,
		Adjustments:  adjustmentIDs,
		Validation:   vres,
	}, nil
}

func (s *Service) fail(run *domain.ConsolidationRun, cause error, log *logrus.Entry) {
	if err := s.runs.UpdateStatus(run.ID, domain.RunFailed, cause.Error()); err != nil {
		log.Errorf("could not mark run failed: %v", err)
		return
	}
	run.Status = domain.RunFailed
	run.Error = cause.Error()
	log.Warnf("run failed: %v", cause)
}

// GetFacts supports independent, combinable filters over persisted
// facts; any subset (including none) is valid.
func (s *Service) GetFacts(filter repository.FactFilter) ([]domain.ConsolidatedFact, error) {
	return s.facts.List(filter)
}

func (s *Service) GetRun(id string) (*domain.ConsolidationRun, error) {
	return s.runs.GetByID(id)
}

func (s *Service) RunsByOrg(orgID string) ([]domain.ConsolidationRun, error) {
	return s.runs.ByOrg(orgID)
}

// ValidateHierarchy exposes the validator output for operators without
// starting a run.
func (s *Service) ValidateHierarchy(orgID string) (*hierarchy.Result, error) {
	units, err := s.orgs.UnitsByOrg(orgID)
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	memberships, err := s.orgs.MembershipsByOrg(orgID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	return hierarchy.Validate(units, memberships), nil
}

// periodRateDate resolves the FX as-of date for a period. Supported
// forms: "2025-Q1" (quarter end) and "2025-03" (month end); anything
// else falls back to the current day.
func periodRateDate(period string) time.Time {
	if t, ok := parseQuarterEnd(period); ok {
		return t
	}
	if t, err := time.Parse("2006-01", period); err == nil {
		return t.AddDate(0, 1, -1)
	}
	return time.Now().UTC()
}

func parseQuarterEnd(period string) (time.Time, bool) {
	var year, quarter int
	if _, err := fmt.Sscanf(period, "%d-Q%d", &year, &quarter); err != nil {
		return time.Time{}, false
	}
	if quarter < 1 || quarter > 4 {
		return time.Time{}, false
	}
	month := time.Month(quarter * 3)
	firstOfNext := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1), true
}

func firstRootID(units []domain.OrgUnit) string {
	for _, u := range units {
		if u.ParentID == "" {
			return u.ID
		}
	}
	if len(units) > 0 {
		return units[0].ID
	}
	return ""
}
