package consolidation

import (
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactly/consolidator/internal/adjust"
	"github.com/impactly/consolidator/internal/collect"
	"github.com/impactly/consolidator/internal/domain"
	"github.com/impactly/consolidator/internal/fx"
	"github.com/impactly/consolidator/internal/repository"
)

func mustInsert(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, err)
}

func TestExecuteFullPipeline(t *testing.T) {
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	orgRepo := repository.NewOrgRepo(db)
	srcRepo := repository.NewMetricSourceRepo(db)
	rateRepo := repository.NewFxRateRepo(db)
	ruleRepo := repository.NewRuleRepo(db)
	adjRepo := repository.NewAdjustmentRepo(db)
	runRepo := repository.NewRunRepo(db)
	factRepo := repository.NewFactRepo(db)

	collector := collect.New(srcRepo, log)
	adjuster := adjust.NewEngine(adjRepo)
	svc := NewService(orgRepo, runRepo, factRepo, ruleRepo, rateRepo, collector, adjuster, log)

	now := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	const period = "2025-Q1"

	mustInsert(t, orgRepo.InsertOrg(&domain.Org{ID: "acme", Name: "ACME", Active: true, CreatedAt: now}))
	mustInsert(t, orgRepo.InsertUnit(&domain.OrgUnit{ID: "u-root", OrgID: "acme", Name: "Global", Active: true}))
	mustInsert(t, orgRepo.InsertUnit(&domain.OrgUnit{ID: "u-emea", OrgID: "acme", ParentID: "u-root", Name: "EMEA", Active: true}))
	mustInsert(t, orgRepo.InsertUnit(&domain.OrgUnit{ID: "u-amer", OrgID: "acme", ParentID: "u-root", Name: "Americas", Active: true}))
	mustInsert(t, orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "u-emea", PercentShare: 60}))
	mustInsert(t, orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "u-amer", PercentShare: 40}))
	mustInsert(t, orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-emea", MemberID: "t-berlin", PercentShare: 100}))
	mustInsert(t, orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-amer", MemberID: "t-austin", PercentShare: 100}))

	rate := decimal.RequireFromString("1.10")
	mustInsert(t, rateRepo.Insert(&domain.FxRate{
		ID: "fx-eur-usd", Base: "EUR", Quote: "USD",
		Day: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Rate: rate,
	}))

	_, err = srcRepo.BulkInsert([]domain.MetricSourceRecord{
		{ID: "s1", TenantID: "t-berlin", Period: period, Metric: "donations", Value: 1000, Currency: "EUR", RecordedAt: now},
		{ID: "s2", TenantID: "t-austin", Period: period, Metric: "donations", Value: 500, Currency: "USD", RecordedAt: now},
		{ID: "s3", TenantID: "t-berlin", Period: period, Metric: "revenue", Value: 300, Currency: "EUR",
			Metadata: map[string]string{domain.MetaSourceEvent: "evt-gala"}, RecordedAt: now},
		{ID: "s4", TenantID: "t-austin", Period: period, Metric: "revenue", Value: 300, Currency: "USD",
			Metadata: map[string]string{domain.MetaSourceEvent: "evt-gala"}, RecordedAt: now},
	})
	require.NoError(t, err)

	mustInsert(t, ruleRepo.Insert(&domain.EliminationRule{
		ID: "rule-gala", OrgID: "acme", Type: domain.RuleEventSource, Active: true,
		SourceEvent: "evt-gala",
	}))

	published := time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC)
	mustInsert(t, adjRepo.Insert(&domain.Adjustment{
		ID: "adj-1", OrgID: "acme", OrgUnitID: "u-root", Period: period,
		Metric: "donations", AmountBase: -100, Currency: "USD",
		Note: "audit reserve", Status: domain.AdjustmentPublished,
		CreatedAt: now, PublishedBy: "cfo", PublishedAt: &published,
	}))

	res, err := svc.Execute(
		domain.ConsolidationConfig{OrgID: "acme", Period: period, BaseCurrency: "USD"},
		"tester", []string{"donations", "revenue"})

	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Run.Status)
	assert.Equal(t, 6, res.FactCount, "three units, two metrics")
	assert.Equal(t, []string{"rule-gala"}, res.RulesApplied)
	assert.Equal(t, []string{"adj-1"}, res.Adjustments)
	require.Len(t, res.UsedRates, 1)
	assert.Equal(t, "fx-eur-usd", res.UsedRates[0].ID)

	// 1000 EUR * 1.10 + 500 USD - 100 adjustment at the root.
	donations, err := svc.GetFacts(repository.FactFilter{OrgID: "acme", Period: period, Metric: "donations"})
	require.NoError(t, err)
	require.Len(t, donations, 3)
	byUnit := map[string]float64{}
	for _, f := range donations {
		byUnit[f.OrgUnitID] = f.Value
		assert.Equal(t, "USD", f.Currency)
		assert.Equal(t, res.Run.ID, f.RunID)
		assert.Contains(t, f.Lineage.FxRateIDs, "fx-eur-usd")
		assert.Contains(t, f.Lineage.AdjustmentIDs, "adj-1")
	}
	assert.InDelta(t, 1100, byUnit["u-emea"], 1e-9)
	assert.InDelta(t, 500, byUnit["u-amer"], 1e-9)
	assert.InDelta(t, 1500, byUnit["u-root"], 1e-9)

	// Both tenants reported the gala event; the duplicate is netted, so
	// consolidated revenue is a single 300.
	revenue, err := svc.GetFacts(repository.FactFilter{OrgID: "acme", Period: period, Metric: "revenue"})
	require.NoError(t, err)
	total := map[string]float64{}
	for _, f := range revenue {
		total[f.OrgUnitID] = f.Value
	}
	assert.InDelta(t, 300, total["u-root"], 1e-9)

	run, err := svc.GetRun(res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)

	// Re-running the same period replaces the fact set instead of
	// appending to it.
	res2, err := svc.Execute(
		domain.ConsolidationConfig{OrgID: "acme", Period: period, BaseCurrency: "USD"},
		"tester", []string{"donations", "revenue"})
	require.NoError(t, err)

	all, err := svc.GetFacts(repository.FactFilter{OrgID: "acme", Period: period})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for _, f := range all {
		assert.Equal(t, res2.Run.ID, f.RunID)
	}
}

func TestExecuteFailsOnInvalidHierarchy(t *testing.T) {
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	orgRepo := repository.NewOrgRepo(db)
	srcRepo := repository.NewMetricSourceRepo(db)
	runRepo := repository.NewRunRepo(db)
	svc := NewService(orgRepo, runRepo, repository.NewFactRepo(db), repository.NewRuleRepo(db),
		repository.NewFxRateRepo(db), collect.New(srcRepo, log),
		adjust.NewEngine(repository.NewAdjustmentRepo(db)), log)

	now := time.Now().UTC()
	mustInsert(t, orgRepo.InsertOrg(&domain.Org{ID: "acme", Name: "ACME", Active: true, CreatedAt: now}))
	mustInsert(t, orgRepo.InsertUnit(&domain.OrgUnit{ID: "u-root", OrgID: "acme", Name: "Global", Active: true}))
	// 55 + 40 = 95, outside tolerance.
	mustInsert(t, orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "t1", PercentShare: 55}))
	mustInsert(t, orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "t2", PercentShare: 40}))

	_, err = svc.Execute(
		domain.ConsolidationConfig{OrgID: "acme", Period: "2025-Q1", BaseCurrency: "USD"},
		"tester", nil)

	require.ErrorIs(t, err, ErrHierarchyInvalid)
	assert.Contains(t, err.Error(), "INVALID_PERCENT_SHARES")

	runs, err := svc.RunsByOrg("acme")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "INVALID_PERCENT_SHARES")
	require.NotNil(t, runs[0].FinishedAt)
}

func TestExecuteFailsOnMissingRate(t *testing.T) {
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	orgRepo := repository.NewOrgRepo(db)
	srcRepo := repository.NewMetricSourceRepo(db)
	svc := NewService(orgRepo, repository.NewRunRepo(db), repository.NewFactRepo(db),
		repository.NewRuleRepo(db), repository.NewFxRateRepo(db),
		collect.New(srcRepo, log), adjust.NewEngine(repository.NewAdjustmentRepo(db)), log)

	now := time.Now().UTC()
	mustInsert(t, orgRepo.InsertOrg(&domain.Org{ID: "acme", Name: "ACME", Active: true, CreatedAt: now}))
	mustInsert(t, orgRepo.InsertUnit(&domain.OrgUnit{ID: "u-root", OrgID: "acme", Name: "Global", Active: true}))
	mustInsert(t, orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "t1", PercentShare: 100}))
	_, err = srcRepo.BulkInsert([]domain.MetricSourceRecord{
		{ID: "s1", TenantID: "t1", Period: "2025-Q1", Metric: "donations", Value: 100, Currency: "GBP", RecordedAt: now},
	})
	require.NoError(t, err)

	_, err = svc.Execute(
		domain.ConsolidationConfig{OrgID: "acme", Period: "2025-Q1", BaseCurrency: "USD"},
		"tester", []string{"donations"})

	require.ErrorIs(t, err, fx.ErrRateNotFound)

	runs, _ := svc.RunsByOrg("acme")
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
}

func TestExecuteRejectsConcurrentRunForSamePeriod(t *testing.T) {
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	orgRepo := repository.NewOrgRepo(db)
	runRepo := repository.NewRunRepo(db)
	svc := NewService(orgRepo, runRepo, repository.NewFactRepo(db), repository.NewRuleRepo(db),
		repository.NewFxRateRepo(db), collect.New(repository.NewMetricSourceRepo(db), log),
		adjust.NewEngine(repository.NewAdjustmentRepo(db)), log)

	now := time.Now().UTC()
	mustInsert(t, orgRepo.InsertOrg(&domain.Org{ID: "acme", Name: "ACME", Active: true, CreatedAt: now}))

	mustInsert(t, runRepo.Insert(&domain.ConsolidationRun{
		ID: "run-1", OrgID: "acme", Period: "2025-Q1", BaseCurrency: "USD",
		Status: domain.RunRunning, CreatedBy: "tester", StartedAt: now,
	}))

	_, err = svc.Execute(
		domain.ConsolidationConfig{OrgID: "acme", Period: "2025-Q1", BaseCurrency: "USD"},
		"tester", nil)

	require.ErrorIs(t, err, ErrRunInFlight)

	// A run for a different period is unaffected by the in-flight one.
	err = runRepo.Insert(&domain.ConsolidationRun{
		ID: "run-2", OrgID: "acme", Period: "2025-Q2", BaseCurrency: "USD",
		Status: domain.RunPending, CreatedBy: "tester", StartedAt: now,
	})
	require.NoError(t, err)
}

func TestExecutePreFlightOrgChecks(t *testing.T) {
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	orgRepo := repository.NewOrgRepo(db)
	svc := NewService(orgRepo, repository.NewRunRepo(db), repository.NewFactRepo(db),
		repository.NewRuleRepo(db), repository.NewFxRateRepo(db),
		collect.New(repository.NewMetricSourceRepo(db), log),
		adjust.NewEngine(repository.NewAdjustmentRepo(db)), log)

	_, err = svc.Execute(
		domain.ConsolidationConfig{OrgID: "ghost", Period: "2025-Q1", BaseCurrency: "USD"},
		"tester", nil)
	require.ErrorIs(t, err, ErrOrgNotFound)

	mustInsert(t, orgRepo.InsertOrg(&domain.Org{ID: "dormant", Name: "Dormant", Active: false, CreatedAt: time.Now().UTC()}))
	_, err = svc.Execute(
		domain.ConsolidationConfig{OrgID: "dormant", Period: "2025-Q1", BaseCurrency: "USD"},
		"tester", nil)
	require.ErrorIs(t, err, ErrOrgInactive)

	// Pre-flight failures never create a run record.
	runs, err := svc.RunsByOrg("dormant")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPeriodRateDate(t *testing.T) {
	tests := []struct {
		period string
		want   time.Time
	}{
		{"2025-Q1", time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"2025-Q4", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"2025-02", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"2024-02", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			assert.Equal(t, tt.want, periodRateDate(tt.period))
		})
	}
}
