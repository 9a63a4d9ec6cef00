package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactly/consolidator/internal/adjust"
	"github.com/impactly/consolidator/internal/consolidation"
	"github.com/impactly/consolidator/internal/domain"
	"github.com/impactly/consolidator/internal/fx"
	"github.com/impactly/consolidator/internal/ingestion"
	"github.com/impactly/consolidator/internal/repository"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	svc          *consolidation.Service
	adjuster     *adjust.Engine
	adjRepo      *repository.AdjustmentRepo
	rateRepo     *repository.FxRateRepo
	ingestionSvc *ingestion.Service
	log          *logrus.Logger
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithField("component", "api").Errorf("encode error: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, consolidation.ErrOrgNotFound):
		return http.StatusNotFound
	case errors.Is(err, consolidation.ErrOrgInactive),
		errors.Is(err, consolidation.ErrRunInFlight),
		errors.Is(err, adjust.ErrAdjustmentImmutable):
		return http.StatusConflict
	case errors.Is(err, consolidation.ErrHierarchyInvalid),
		errors.Is(err, fx.ErrRateNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- consolidation runs ---

type runRequest struct {
	Period       string   `json:"period"`
	BaseCurrency string   `json:"base_currency"`
	Metrics      []string `json:"metrics,omitempty"`
	CreatedBy    string   `json:"created_by"`
}

func (h *Handlers) StartConsolidation(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Period == "" || req.BaseCurrency == "" {
		h.writeError(w, http.StatusBadRequest, "period and base_currency are required")
		return
	}
	if money.GetCurrency(req.BaseCurrency) == nil {
		h.writeError(w, http.StatusBadRequest, "unknown base currency: "+req.BaseCurrency)
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "api"
	}

	result, err := h.svc.Execute(domain.ConsolidationConfig{
		OrgID:        orgID,
		Period:       req.Period,
		BaseCurrency: req.BaseCurrency,
	}, req.CreatedBy, req.Metrics)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ListConsolidations(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.RunsByOrg(chi.URLParam(r, "orgID"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handlers) GetConsolidation(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// --- facts ---

func (h *Handlers) ListFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	facts, err := h.svc.GetFacts(repository.FactFilter{
		OrgID:  q.Get("org_id"),
		Period: q.Get("period"),
		Metric: q.Get("metric"),
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"facts": facts, "count": len(facts)})
}

// --- hierarchy ---

func (h *Handlers) GetHierarchyValidation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ValidateHierarchy(chi.URLParam(r, "orgID"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// --- adjustments ---

type adjustmentRequest struct {
	OrgID      string  `json:"org_id"`
	OrgUnitID  string  `json:"org_unit_id,omitempty"`
	Period     string  `json:"period"`
	Metric     string  `json:"metric"`
	AmountBase float64 `json:"amount_base"`
	Currency   string  `json:"currency"`
	Note       string  `json:"note"`
}

func (h *Handlers) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.OrgID == "" || req.Period == "" {
		h.writeError(w, http.StatusBadRequest, "org_id and period are required")
		return
	}
	if req.Currency != "" && money.GetCurrency(req.Currency) == nil {
		h.writeError(w, http.StatusBadRequest, "unknown currency: "+req.Currency)
		return
	}

	a := &domain.Adjustment{
		ID:         uuid.NewString(),
		OrgID:      req.OrgID,
		OrgUnitID:  req.OrgUnitID,
		Period:     req.Period,
		Metric:     req.Metric,
		AmountBase: req.AmountBase,
		Currency:   req.Currency,
		Note:       req.Note,
		Status:     domain.AdjustmentDraft,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.adjRepo.Insert(a); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

func (h *Handlers) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		h.writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	adjustments, err := h.adjRepo.ByOrg(orgID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}

func (h *Handlers) ValidateAdjustment(w http.ResponseWriter, r *http.Request) {
	res, err := h.adjuster.ValidateAdjustment(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type publishRequest struct {
	PublishedBy string `json:"published_by"`
}

func (h *Handlers) PublishAdjustment(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.PublishedBy == "" {
		h.writeError(w, http.StatusBadRequest, "published_by is required")
		return
	}

	a, err := h.adjuster.PublishAdjustment(chi.URLParam(r, "id"), req.PublishedBy)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// --- fx ---

type convertRequest struct {
	Amount float64 `json:"amount"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Date   string  `json:"date,omitempty"`
}

// ConvertPreview performs a single-value, ad hoc conversion using the
// pipeline's resolution order (e.g. previewing an adjustment amount).
func (h *Handlers) ConvertPreview(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if money.GetCurrency(req.From) == nil || money.GetCurrency(req.To) == nil {
		h.writeError(w, http.StatusBadRequest, "from and to must be known currency codes")
		return
	}

	day := time.Now().UTC()
	if req.Date != "" {
		t, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = t
	}

	conv, err := fx.NewConverter(h.rateRepo).Convert(req.Amount, req.From, req.To, day)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

// --- ingestion ---

func (h *Handlers) IngestMetrics(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	source := r.FormValue("source")
	format := r.FormValue("format")
	if source == "" || format == "" {
		h.writeError(w, http.StatusBadRequest, "source and format are required")
		return
	}

	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	result, err := h.ingestionSvc.IngestMetrics(data, source, format)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) IngestRates(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	result, err := h.ingestionSvc.IngestRates(data)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return nil, false
	}
	return data, true
}
