package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/override"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/internal/services/parameters"
)

func (s *Server) handleGetActiveParameters(w http.ResponseWriter, r *http.Request) {
	model, err := capital.ParseMethodology(mux.Vars(r)["model"])
	if err != nil {
		respondError(w, serrors.InvalidEnum("model", mux.Vars(r)["model"]))
		return
	}
	snap, err := s.params.GetActive(r.Context(), model)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleParameterHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	model, err := capital.ParseMethodology(vars["model"])
	if err != nil {
		respondError(w, serrors.InvalidEnum("model", vars["model"]))
		return
	}
	history, err := s.params.History(r.Context(), model, vars["name"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// proposeParameterRequest opens a governance workflow.
type proposeParameterRequest struct {
	Model               string      `json:"model" validate:"required"`
	ParameterName       string      `json:"parameter_name" validate:"required"`
	ParameterType       string      `json:"parameter_type" validate:"required"`
	Value               param.Value `json:"value"`
	EffectiveDate       string      `json:"effective_date" validate:"required"`
	Justification       string      `json:"justification" validate:"required"`
	RBIApprovalRequired bool        `json:"rbi_approval_required"`
	Actor               string      `json:"actor" validate:"required"`
}

func (s *Server) handleProposeParameter(w http.ResponseWriter, r *http.Request) {
	var req proposeParameterRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, serrors.Wrap(serrors.ErrCodeValidation, "request validation failed",
			http.StatusUnprocessableEntity, err))
		return
	}
	model, err := capital.ParseMethodology(req.Model)
	if err != nil {
		respondError(w, serrors.InvalidEnum("model", req.Model))
		return
	}
	effective, err := parseISODate(req.EffectiveDate, "effective_date")
	if err != nil {
		respondError(w, err)
		return
	}

	v, err := s.params.Propose(r.Context(), parameters.ProposeRequest{
		Model:               model,
		ParameterName:       req.ParameterName,
		ParameterType:       param.Type(req.ParameterType),
		Value:               req.Value,
		EffectiveDate:       effective,
		Justification:       req.Justification,
		RBIApprovalRequired: req.RBIApprovalRequired,
		Actor:               req.Actor,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

// workflowDecisionRequest carries a review or approval decision.
type workflowDecisionRequest struct {
	Actor        string `json:"actor" validate:"required"`
	Approve      bool   `json:"approve"`
	RBIReference string `json:"rbi_reference,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

func (s *Server) handleReviewParameter(w http.ResponseWriter, r *http.Request) {
	var req workflowDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	v, err := s.params.Review(r.Context(), mux.Vars(r)["version_id"], req.Actor, req.Approve, req.Comment)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleApproveParameter(w http.ResponseWriter, r *http.Request) {
	var req workflowDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	v, err := s.params.Approve(r.Context(), mux.Vars(r)["version_id"], req.Actor, req.Approve, req.RBIReference, req.Comment)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleActivateParameter(w http.ResponseWriter, r *http.Request) {
	var req workflowDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	v, err := s.params.Activate(r.Context(), mux.Vars(r)["version_id"], req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleParameterSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.params.WorkflowSteps(r.Context(), mux.Vars(r)["version_id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, steps)
}

func (s *Server) handleParameterImpact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	model, err := capital.ParseMethodology(vars["model"])
	if err != nil {
		respondError(w, serrors.InvalidEnum("model", vars["model"]))
		return
	}
	var proposed param.Value
	if err := decodeBody(r, &proposed); err != nil {
		respondError(w, err)
		return
	}
	impact, err := s.params.AnalyzeImpact(r.Context(), model, vars["name"], proposed)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, impact)
}

// overrideRequest is the wire form of a supervisor override proposal.
type overrideRequest struct {
	OverrideType         string           `json:"override_type" validate:"required"`
	EntityID             string           `json:"entity_id" validate:"required"`
	CalculationRunID     string           `json:"calculation_run_id,omitempty"`
	ParameterName        string           `json:"parameter_name,omitempty"`
	OverrideValue        decimal.Decimal  `json:"override_value"`
	PercentageAdjustment *decimal.Decimal `json:"percentage_adjustment,omitempty"`
	Reason               string           `json:"reason" validate:"required"`
	EffectiveFrom        string           `json:"effective_from" validate:"required"`
	EffectiveTo          string           `json:"effective_to,omitempty"`
	ProposedBy           string           `json:"proposed_by" validate:"required"`
}

func (s *Server) handleProposeOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, serrors.Wrap(serrors.ErrCodeValidation, "request validation failed",
			http.StatusUnprocessableEntity, err))
		return
	}
	from, err := parseISODate(req.EffectiveFrom, "effective_from")
	if err != nil {
		respondError(w, err)
		return
	}

	o := override.Override{
		OverrideType:         override.Type(req.OverrideType),
		EntityID:             req.EntityID,
		CalculationRunID:     req.CalculationRunID,
		ParameterName:        req.ParameterName,
		OverrideValue:        req.OverrideValue,
		PercentageAdjustment: req.PercentageAdjustment,
		Reason:               req.Reason,
		EffectiveFrom:        from,
		ProposedBy:           req.ProposedBy,
	}
	if req.EffectiveTo != "" {
		to, err := parseISODate(req.EffectiveTo, "effective_to")
		if err != nil {
			respondError(w, err)
			return
		}
		o.EffectiveTo = &to
	}

	created, err := s.overrides.Propose(r.Context(), o)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	list, err := s.overrides.List(r.Context(), r.URL.Query().Get("entity_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	o, err := s.overrides.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// overrideDecisionRequest carries an approval or application decision.
type overrideDecisionRequest struct {
	Actor              string `json:"actor" validate:"required"`
	Approve            bool   `json:"approve"`
	ApprovalReference  string `json:"approval_reference,omitempty"`
	RBINotificationRef string `json:"rbi_notification_reference,omitempty"`
}

func (s *Server) handleApproveOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	o, err := s.overrides.Approve(r.Context(), mux.Vars(r)["id"], req.Actor,
		req.ApprovalReference, req.RBINotificationRef, req.Approve)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleApplyOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	o, err := s.overrides.Apply(r.Context(), mux.Vars(r)["id"], req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}
