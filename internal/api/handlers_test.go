package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactly/consolidator/internal/adjust"
	"github.com/impactly/consolidator/internal/collect"
	"github.com/impactly/consolidator/internal/consolidation"
	"github.com/impactly/consolidator/internal/domain"
	"github.com/impactly/consolidator/internal/ingestion"
	"github.com/impactly/consolidator/internal/repository"
)

type fixture struct {
	router  http.Handler
	orgRepo *repository.OrgRepo
	srcRepo *repository.MetricSourceRepo
	rates   *repository.FxRateRepo
	adjRepo *repository.AdjustmentRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	orgRepo := repository.NewOrgRepo(db)
	srcRepo := repository.NewMetricSourceRepo(db)
	rateRepo := repository.NewFxRateRepo(db)
	ruleRepo := repository.NewRuleRepo(db)
	adjRepo := repository.NewAdjustmentRepo(db)
	runRepo := repository.NewRunRepo(db)
	factRepo := repository.NewFactRepo(db)

	adjuster := adjust.NewEngine(adjRepo)
	svc := consolidation.NewService(orgRepo, runRepo, factRepo, ruleRepo, rateRepo,
		collect.New(srcRepo, log), adjuster, log)
	ingestionSvc := ingestion.NewService(srcRepo, rateRepo, log)

	return &fixture{
		router:  NewRouter(svc, adjuster, adjRepo, rateRepo, ingestionSvc, log),
		orgRepo: orgRepo,
		srcRepo: srcRepo,
		rates:   rateRepo,
		adjRepo: adjRepo,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedOrg(t *testing.T) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.orgRepo.InsertOrg(&domain.Org{ID: "acme", Name: "ACME", Active: true, CreatedAt: now}))
	require.NoError(t, f.orgRepo.InsertUnit(&domain.OrgUnit{ID: "u-root", OrgID: "acme", Name: "Global", Active: true}))
	require.NoError(t, f.orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "t1", PercentShare: 100}))
	_, err := f.srcRepo.BulkInsert([]domain.MetricSourceRecord{
		{ID: "s1", TenantID: "t1", Period: "2025-Q1", Metric: "donations", Value: 100, Currency: "USD", RecordedAt: now},
	})
	require.NoError(t, err)
}

func TestStartConsolidationHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)

	rec := f.do(t, http.MethodPost, "/api/v1/orgs/acme/consolidations", map[string]any{
		"period":        "2025-Q1",
		"base_currency": "USD",
		"metrics":       []string{"donations"},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res struct {
		Run       domain.ConsolidationRun `json:"run"`
		FactCount int                     `json:"fact_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.RunCompleted, res.Run.Status)
	assert.Equal(t, 1, res.FactCount)

	facts := f.do(t, http.MethodGet, "/api/v1/facts?org_id=acme&period=2025-Q1", nil)
	require.Equal(t, http.StatusOK, facts.Code)
	assert.Contains(t, facts.Body.String(), `"count":1`)
}

func TestStartConsolidationUnknownOrgIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/orgs/ghost/consolidations", map[string]any{
		"period":        "2025-Q1",
		"base_currency": "USD",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartConsolidationInvalidHierarchyIs422(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.orgRepo.InsertOrg(&domain.Org{ID: "acme", Name: "ACME", Active: true, CreatedAt: now}))
	require.NoError(t, f.orgRepo.InsertUnit(&domain.OrgUnit{ID: "u-root", OrgID: "acme", Name: "Global", Active: true}))
	require.NoError(t, f.orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "t1", PercentShare: 55}))
	require.NoError(t, f.orgRepo.InsertMembership(&domain.OrgUnitMembership{OrgUnitID: "u-root", MemberID: "t2", PercentShare: 40}))

	rec := f.do(t, http.MethodPost, "/api/v1/orgs/acme/consolidations", map[string]any{
		"period":        "2025-Q1",
		"base_currency": "USD",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_PERCENT_SHARES")
}

func TestStartConsolidationRejectsUnknownCurrency(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/orgs/acme/consolidations", map[string]any{
		"period":        "2025-Q1",
		"base_currency": "DOGE",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjustmentLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	created := f.do(t, http.MethodPost, "/api/v1/adjustments", map[string]any{
		"org_id":      "acme",
		"period":      "2025-Q1",
		"metric":      "donations",
		"amount_base": -100,
		"currency":    "USD",
		"note":        "audit reserve",
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	var a domain.Adjustment
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &a))
	assert.Equal(t, domain.AdjustmentDraft, a.Status)

	validation := f.do(t, http.MethodGet, "/api/v1/adjustments/"+a.ID+"/validation", nil)
	require.Equal(t, http.StatusOK, validation.Code)
	assert.Contains(t, validation.Body.String(), `"valid":true`)

	publish := f.do(t, http.MethodPost, "/api/v1/adjustments/"+a.ID+"/publish", map[string]any{
		"published_by": "cfo",
	})
	require.Equal(t, http.StatusOK, publish.Code, publish.Body.String())

	// Second publish hits the immutability guard.
	again := f.do(t, http.MethodPost, "/api/v1/adjustments/"+a.ID+"/publish", map[string]any{
		"published_by": "intern",
	})
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Contains(t, again.Body.String(), "already published")
}

func TestConvertPreview(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rates.Insert(&domain.FxRate{
		ID: "fx-1", Base: "EUR", Quote: "USD",
		Day:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Rate: decimal.RequireFromString("1.10"),
	}))

	rec := f.do(t, http.MethodPost, "/api/v1/fx/convert", map[string]any{
		"amount": 100,
		"from":   "EUR",
		"to":     "USD",
		"date":   "2025-03-15",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"converted_amount":110`)

	missing := f.do(t, http.MethodPost, "/api/v1/fx/convert", map[string]any{
		"amount": 100,
		"from":   "GBP",
		"to":     "USD",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, missing.Code)
}
