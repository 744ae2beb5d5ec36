package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
)

// calculationRequest is the wire form of a calculation submission. Dates are
// ISO-8601; monetary values ride as decimal strings.
type calculationRequest struct {
	ModelName       string                 `json:"model_name" validate:"required"`
	ExecutionMode   string                 `json:"execution_mode" validate:"omitempty,oneof=sync async"`
	EntityID        string                 `json:"entity_id" validate:"required"`
	CalculationDate string                 `json:"calculation_date" validate:"required"`
	Parameters      map[string]param.Value `json:"parameters,omitempty"`

	GrossIncome []indicator.GrossIncomeYear    `json:"gross_income,omitempty"`
	LineIncome  []indicator.BusinessLineIncome `json:"line_income,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty" validate:"omitempty,url"`
}

func parseISODate(value, field string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, serrors.Validation("invalid ISO-8601 date").WithDetails("field", field)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req calculationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, serrors.Wrap(serrors.ErrCodeValidation, "request validation failed",
			http.StatusUnprocessableEntity, err))
		return
	}

	method, err := capital.ParseMethodology(req.ModelName)
	if err != nil {
		respondError(w, serrors.InvalidEnum("model_name", req.ModelName))
		return
	}
	date, err := parseISODate(req.CalculationDate, "calculation_date")
	if err != nil {
		respondError(w, err)
		return
	}

	mode := job.ExecutionMode(req.ExecutionMode)
	if mode == "" {
		mode = job.ModeAsync
	}

	submitted, err := s.jobs.Submit(r.Context(), job.Request{
		ModelName:       method,
		ExecutionMode:   mode,
		EntityID:        req.EntityID,
		CalculationDate: date,
		Parameters:      req.Parameters,
		GrossIncome:     req.GrossIncome,
		LineIncome:      req.LineIncome,
		IdempotencyKey:  req.IdempotencyKey,
		CorrelationID:   req.CorrelationID,
		CallbackURL:     req.CallbackURL,
		Initiator:       "api",
	})
	if err != nil {
		respondError(w, err)
		return
	}

	// Sync completions return the full result; everything else returns the
	// job handle.
	if submitted.Status == job.StatusCompleted && submitted.Result != nil {
		respondJSON(w, http.StatusOK, submitted.Result)
		return
	}
	respondJSON(w, http.StatusAccepted, job.Response{
		JobID:       submitted.ID,
		RunID:       submitted.RunID,
		Status:      submitted.Status,
		CallbackURL: submitted.CallbackURL,
		CreatedAt:   submitted.CreatedAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (s *Server) handleGetJobResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.jobs.GetResult(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}
