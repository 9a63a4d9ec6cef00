package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/impactly/consolidator/internal/adjust"
	"github.com/impactly/consolidator/internal/consolidation"
	"github.com/impactly/consolidator/internal/ingestion"
	"github.com/impactly/consolidator/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	svc *consolidation.Service,
	adjuster *adjust.Engine,
	adjRepo *repository.AdjustmentRepo,
	rateRepo *repository.FxRateRepo,
	ingestionSvc *ingestion.Service,
	log *logrus.Logger,
) http.Handler {
	h := &Handlers{
		svc:          svc,
		adjuster:     adjuster,
		adjRepo:      adjRepo,
		rateRepo:     rateRepo,
		ingestionSvc: ingestionSvc,
		log:          log,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Consolidation runs.
		r.Post("/orgs/{orgID}/consolidations", h.StartConsolidation)
		r.Get("/orgs/{orgID}/consolidations", h.ListConsolidations)
		r.Get("/consolidations/{id}", h.GetConsolidation)

		// Facts.
		r.Get("/facts", h.ListFacts)

		// Hierarchy.
		r.Get("/orgs/{orgID}/hierarchy/validation", h.GetHierarchyValidation)

		// Adjustments.
		r.Post("/adjustments", h.CreateAdjustment)
		r.Get("/adjustments", h.ListAdjustments)
		r.Get("/adjustments/{id}/validation", h.ValidateAdjustment)
		r.Post("/adjustments/{id}/publish", h.PublishAdjustment)

		// FX.
		r.Post("/fx/convert", h.ConvertPreview)
		r.Post("/fx/ingest", h.IngestRates)

		// Ingestion.
		r.Post("/metrics/ingest", h.IngestMetrics)
	})

	return r
}
