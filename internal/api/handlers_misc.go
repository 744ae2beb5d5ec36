package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/entity"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/internal/engine"
	"github.com/logicthinker/orm-capital-engine/internal/services/analytics"
)

// businessIndicatorRequest is the wire form of one BI ingestion.
type businessIndicatorRequest struct {
	EntityID        string          `json:"entity_id" validate:"required"`
	Period          string          `json:"period" validate:"required"`
	CalculationDate string          `json:"calculation_date" validate:"required"`
	ILDC            decimal.Decimal `json:"ildc"`
	SC              decimal.Decimal `json:"sc"`
	FC              decimal.Decimal `json:"fc"`
}

func (s *Server) handleCreateBusinessIndicator(w http.ResponseWriter, r *http.Request) {
	var req businessIndicatorRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, serrors.Wrap(serrors.ErrCodeValidation, "request validation failed",
			http.StatusUnprocessableEntity, err))
		return
	}
	date, err := parseISODate(req.CalculationDate, "calculation_date")
	if err != nil {
		respondError(w, err)
		return
	}

	bi := indicator.BusinessIndicator{
		ID:              "bi_" + uuid.NewString(),
		EntityID:        req.EntityID,
		Period:          req.Period,
		CalculationDate: date,
		ILDC:            req.ILDC,
		SC:              req.SC,
		FC:              req.FC,
	}
	bi.BITotal = bi.Total()

	created, err := s.store.CreateBusinessIndicator(r.Context(), bi)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// entityRequest is the wire form of one entity registration.
type entityRequest struct {
	ID                 string `json:"id" validate:"required"`
	Name               string `json:"name" validate:"required"`
	EntityType         string `json:"entity_type"`
	ParentEntityID     string `json:"parent_entity_id,omitempty"`
	ConsolidationLevel string `json:"consolidation_level"`
	RegulatoryCode     string `json:"regulatory_code,omitempty"`
	Active             bool   `json:"active"`
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, serrors.Wrap(serrors.ErrCodeValidation, "request validation failed",
			http.StatusUnprocessableEntity, err))
		return
	}

	created, err := s.consolidation.AddEntity(r.Context(), entity.Entity{
		ID:                 req.ID,
		Name:               req.Name,
		EntityType:         req.EntityType,
		ParentEntityID:     req.ParentEntityID,
		ConsolidationLevel: entity.ConsolidationLevel(req.ConsolidationLevel),
		RegulatoryCode:     req.RegulatoryCode,
		Active:             req.Active,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level := entity.ConsolidationLevel(q.Get("level"))
	if level == "" {
		level = entity.LevelConsolidated
	}
	date, err := parseISODate(q.Get("date"), "date")
	if err != nil {
		respondError(w, err)
		return
	}

	res, err := s.consolidation.CalculateConsolidated(r.Context(),
		mux.Vars(r)["parent_id"], level, date,
		q.Get("include_subsidiaries") != "false",
		q.Get("include_corporate_actions") != "false")
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	record, err := s.lineage.Lineage(r.Context(), mux.Vars(r)["run_id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleAuditChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.lineage.Chain(r.Context(), mux.Vars(r)["run_id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chain)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.lineage.VerifyIntegrity(r.Context(), mux.Vars(r)["run_id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleReproducibility(w http.ResponseWriter, r *http.Request) {
	report, err := s.lineage.Reproducibility(r.Context(), mux.Vars(r)["run_id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// analyticsRequest carries the shared analytics inputs; the engine bundle is
// assembled from stored data as of the calculation date.
type analyticsRequest struct {
	ModelName       string                 `json:"model_name" validate:"required"`
	EntityID        string                 `json:"entity_id" validate:"required"`
	CalculationDate string                 `json:"calculation_date" validate:"required"`
	Scenarios       []analytics.Scenario   `json:"scenarios,omitempty"`
	Parameter       string                 `json:"parameter,omitempty"`
	Min             decimal.Decimal        `json:"min,omitempty"`
	Max             decimal.Decimal        `json:"max,omitempty"`
	StepSize        decimal.Decimal        `json:"step_size,omitempty"`
	Overlay         map[string]param.Value `json:"overlay,omitempty"`
}

func (s *Server) analyticsInputs(r *http.Request) (capital.Methodology, engine.Bundle, param.Snapshot, *analyticsRequest, error) {
	var req analyticsRequest
	if err := decodeBody(r, &req); err != nil {
		return "", engine.Bundle{}, param.Snapshot{}, nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return "", engine.Bundle{}, param.Snapshot{}, nil,
			serrors.Wrap(serrors.ErrCodeValidation, "request validation failed",
				http.StatusUnprocessableEntity, err)
	}
	method, err := capital.ParseMethodology(req.ModelName)
	if err != nil {
		return "", engine.Bundle{}, param.Snapshot{}, nil, serrors.InvalidEnum("model_name", req.ModelName)
	}
	date, err := parseISODate(req.CalculationDate, "calculation_date")
	if err != nil {
		return "", engine.Bundle{}, param.Snapshot{}, nil, err
	}

	snap, err := s.params.GetActive(r.Context(), method)
	if err != nil {
		return "", engine.Bundle{}, param.Snapshot{}, nil, err
	}

	bundle := engine.Bundle{EntityID: req.EntityID, CalculationDate: date}
	if method == capital.SMA {
		indicators, err := s.store.ListBusinessIndicators(r.Context(), req.EntityID, date, 3)
		if err != nil {
			return "", engine.Bundle{}, param.Snapshot{}, nil, err
		}
		horizon := snap.Int(engine.ParamLossHorizonYears, 10)
		lossEvents, err := s.losses.QueryForCalculation(r.Context(), req.EntityID, horizon, date)
		if err != nil {
			return "", engine.Bundle{}, param.Snapshot{}, nil, err
		}
		bundle.Indicators = indicators
		bundle.Losses = lossEvents
	}
	return method, bundle, snap, &req, nil
}

func (s *Server) handleStressTest(w http.ResponseWriter, r *http.Request) {
	method, bundle, snap, req, err := s.analyticsInputs(r)
	if err != nil {
		respondError(w, err)
		return
	}
	res, err := s.analytics.StressTest(r.Context(), method, bundle, snap, req.Scenarios)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	method, bundle, snap, req, err := s.analyticsInputs(r)
	if err != nil {
		respondError(w, err)
		return
	}
	res, err := s.analytics.Sensitivity(r.Context(), method, bundle, snap,
		req.Parameter, req.Min, req.Max, req.StepSize)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	method, bundle, snap, req, err := s.analyticsInputs(r)
	if err != nil {
		respondError(w, err)
		return
	}
	res, err := s.analytics.WhatIf(r.Context(), method, bundle, snap, req.Overlay)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
