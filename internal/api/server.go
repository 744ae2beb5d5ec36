// Package api exposes the REST surface of the capital engine: calculation
// jobs, loss data, parameter governance, overrides, consolidation, lineage,
// and analytics.
package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logicthinker/orm-capital-engine/infrastructure/config"
	"github.com/logicthinker/orm-capital-engine/infrastructure/metrics"
	"github.com/logicthinker/orm-capital-engine/infrastructure/middleware"
	"github.com/logicthinker/orm-capital-engine/internal/services/analytics"
	"github.com/logicthinker/orm-capital-engine/internal/services/consolidation"
	"github.com/logicthinker/orm-capital-engine/internal/services/jobs"
	"github.com/logicthinker/orm-capital-engine/internal/services/lineage"
	"github.com/logicthinker/orm-capital-engine/internal/services/losses"
	"github.com/logicthinker/orm-capital-engine/internal/services/overrides"
	"github.com/logicthinker/orm-capital-engine/internal/services/parameters"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// Server wires the service handles into the HTTP router.
type Server struct {
	cfg           *config.Config
	store         storage.Store
	jobs          *jobs.Service
	losses        *losses.Service
	params        *parameters.Service
	overrides     *overrides.Service
	consolidation *consolidation.Service
	lineage       *lineage.Service
	analytics     *analytics.Service
	metrics       *metrics.Metrics
	validate      *validator.Validate
	log           *logger.Logger
}

// NewServer constructs the API server over explicitly injected services.
func NewServer(cfg *config.Config, store storage.Store, jobSvc *jobs.Service, lossSvc *losses.Service, paramSvc *parameters.Service, overrideSvc *overrides.Service, consolidationSvc *consolidation.Service, lineageSvc *lineage.Service, analyticsSvc *analytics.Service, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		cfg:           cfg,
		store:         store,
		jobs:          jobSvc,
		losses:        lossSvc,
		params:        paramSvc,
		overrides:     overrideSvc,
		consolidation: consolidationSvc,
		lineage:       lineageSvc,
		analytics:     analyticsSvc,
		metrics:       m,
		validate:      validator.New(),
		log:           log.WithComponent("api"),
	}
}

// Router builds the full route table with middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(s.log))
	r.Use(middleware.Logging(s.log))
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
	}
	if s.cfg.Auth.Enabled {
		r.Use(middleware.BearerAuth(s.cfg.Auth.JWTSecret))
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Calculation jobs
	v1.HandleFunc("/calculation-jobs", s.handleSubmitJob).Methods(http.MethodPost)
	v1.HandleFunc("/calculation-jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/calculation-jobs/{id}/result", s.handleGetJobResult).Methods(http.MethodGet)
	v1.HandleFunc("/calculation-jobs/{id}", s.handleCancelJob).Methods(http.MethodDelete)

	// Loss data
	v1.HandleFunc("/loss-events", s.handleIngestLossEvents).Methods(http.MethodPost)
	v1.HandleFunc("/loss-events/{id}", s.handleGetLossEvent).Methods(http.MethodGet)
	v1.HandleFunc("/loss-events/{id}/recoveries", s.handleAttachRecovery).Methods(http.MethodPost)
	v1.HandleFunc("/loss-events/{id}/exclusion", s.handleExcludeLossEvent).Methods(http.MethodPost)

	// Business indicators
	v1.HandleFunc("/business-indicators", s.handleCreateBusinessIndicator).Methods(http.MethodPost)

	// Parameters and governance
	v1.HandleFunc("/parameters/{model}", s.handleGetActiveParameters).Methods(http.MethodGet)
	v1.HandleFunc("/parameters/{model}/{name}/history", s.handleParameterHistory).Methods(http.MethodGet)
	v1.HandleFunc("/parameters/proposals", s.handleProposeParameter).Methods(http.MethodPost)
	v1.HandleFunc("/parameters/proposals/{version_id}/review", s.handleReviewParameter).Methods(http.MethodPost)
	v1.HandleFunc("/parameters/proposals/{version_id}/approval", s.handleApproveParameter).Methods(http.MethodPost)
	v1.HandleFunc("/parameters/proposals/{version_id}/activation", s.handleActivateParameter).Methods(http.MethodPost)
	v1.HandleFunc("/parameters/proposals/{version_id}/steps", s.handleParameterSteps).Methods(http.MethodGet)
	v1.HandleFunc("/parameters/{model}/{name}/impact", s.handleParameterImpact).Methods(http.MethodPost)

	// Overrides
	v1.HandleFunc("/overrides", s.handleProposeOverride).Methods(http.MethodPost)
	v1.HandleFunc("/overrides", s.handleListOverrides).Methods(http.MethodGet)
	v1.HandleFunc("/overrides/{id}", s.handleGetOverride).Methods(http.MethodGet)
	v1.HandleFunc("/overrides/{id}/approval", s.handleApproveOverride).Methods(http.MethodPost)
	v1.HandleFunc("/overrides/{id}/application", s.handleApplyOverride).Methods(http.MethodPost)

	// Consolidation
	v1.HandleFunc("/entities", s.handleCreateEntity).Methods(http.MethodPost)
	v1.HandleFunc("/consolidation/{parent_id}", s.handleConsolidate).Methods(http.MethodGet)

	// Lineage
	v1.HandleFunc("/lineage/{run_id}", s.handleLineage).Methods(http.MethodGet)
	v1.HandleFunc("/lineage/{run_id}/audit", s.handleAuditChain).Methods(http.MethodGet)
	v1.HandleFunc("/lineage/{run_id}/integrity", s.handleIntegrity).Methods(http.MethodGet)
	v1.HandleFunc("/lineage/{run_id}/reproducibility", s.handleReproducibility).Methods(http.MethodGet)

	// Analytics
	v1.HandleFunc("/analytics/stress-test", s.handleStressTest).Methods(http.MethodPost)
	v1.HandleFunc("/analytics/sensitivity", s.handleSensitivity).Methods(http.MethodPost)
	v1.HandleFunc("/analytics/what-if", s.handleWhatIf).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
