package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
)

// lossEventRequest is the wire form of one loss event.
type lossEventRequest struct {
	EntityID       string          `json:"entity_id" validate:"required"`
	EventType      string          `json:"event_type" validate:"required"`
	BusinessLine   string          `json:"business_line" validate:"required"`
	OccurrenceDate string          `json:"occurrence_date" validate:"required"`
	DiscoveryDate  string          `json:"discovery_date" validate:"required"`
	AccountingDate string          `json:"accounting_date" validate:"required"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
}

func (s *Server) handleIngestLossEvents(w http.ResponseWriter, r *http.Request) {
	var reqs []lossEventRequest
	if err := decodeBody(r, &reqs); err != nil {
		respondError(w, err)
		return
	}

	events := make([]loss.Event, 0, len(reqs))
	for _, req := range reqs {
		occurrence, err := parseISODate(req.OccurrenceDate, "occurrence_date")
		if err != nil {
			respondError(w, err)
			return
		}
		discovery, err := parseISODate(req.DiscoveryDate, "discovery_date")
		if err != nil {
			respondError(w, err)
			return
		}
		accounting, err := parseISODate(req.AccountingDate, "accounting_date")
		if err != nil {
			respondError(w, err)
			return
		}
		events = append(events, loss.Event{
			EntityID:       req.EntityID,
			EventType:      loss.EventType(req.EventType),
			BusinessLine:   loss.BusinessLine(req.BusinessLine),
			OccurrenceDate: occurrence,
			DiscoveryDate:  discovery,
			AccountingDate: accounting,
			GrossAmount:    req.GrossAmount,
		})
	}

	result, accepted, err := s.losses.Ingest(r.Context(), events)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"validation": result,
		"accepted":   accepted,
	})
}

func (s *Server) handleGetLossEvent(w http.ResponseWriter, r *http.Request) {
	ev, recoveries, err := s.losses.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"event":      ev,
		"recoveries": recoveries,
	})
}

// recoveryRequest is the wire form of a recovery attachment.
type recoveryRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	ReceiptDate  string          `json:"receipt_date" validate:"required"`
	RecoveryType string          `json:"recovery_type,omitempty"`
}

func (s *Server) handleAttachRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	receipt, err := parseISODate(req.ReceiptDate, "receipt_date")
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := s.losses.AttachRecovery(r.Context(), mux.Vars(r)["id"], loss.Recovery{
		Amount:       req.Amount,
		ReceiptDate:  receipt,
		RecoveryType: req.RecoveryType,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// exclusionRequest is the wire form of an RBI-approved exclusion.
type exclusionRequest struct {
	Reason             string `json:"reason" validate:"required"`
	ApprovalReference  string `json:"approval_reference"`
	ApprovalDate       string `json:"approval_date"`
	ApprovingAuthority string `json:"approving_authority"`
	ApprovalReason     string `json:"approval_reason"`
}

func (s *Server) handleExcludeLossEvent(w http.ResponseWriter, r *http.Request) {
	var req exclusionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, serrors.Wrap(serrors.ErrCodeValidation, "request validation failed",
			http.StatusUnprocessableEntity, err))
		return
	}

	var approval *loss.RBIApproval
	if req.ApprovalReference != "" || req.ApprovingAuthority != "" || req.ApprovalReason != "" || req.ApprovalDate != "" {
		approval = &loss.RBIApproval{
			ApprovalReference:  req.ApprovalReference,
			ApprovingAuthority: req.ApprovingAuthority,
			ApprovalReason:     req.ApprovalReason,
		}
		if req.ApprovalDate != "" {
			date, err := parseISODate(req.ApprovalDate, "approval_date")
			if err != nil {
				respondError(w, err)
				return
			}
			approval.ApprovalDate = date
		}
	}

	ev, err := s.losses.Exclude(r.Context(), mux.Vars(r)["id"], req.Reason, approval)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}
