// Package losses implements the loss-data governance pipeline: ingestion
// validation, recovery netting, RBI-approved exclusions, and the
// threshold-filtered query feeding SMA calculations.
package losses

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/validation"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// exclusionDisclosureMonths is the Pillar 3 disclosure window opened by an
// RBI-approved exclusion.
const exclusionDisclosureMonths = 12

// Service orchestrates loss-event persistence and governance.
type Service struct {
	store     storage.LossEventStore
	threshold decimal.Decimal
	log       *logger.Logger
}

// NewService constructs a loss-data Service. threshold is the minimum gross
// amount for inclusion (₹1,00,000 by default parameter).
func NewService(store storage.LossEventStore, threshold decimal.Decimal, log *logger.Logger) *Service {
	return &Service{store: store, threshold: threshold, log: log.WithComponent("lossdata")}
}

// validate collects every violation on one event.
func (s *Service) validate(ev loss.Event) []validation.Error {
	var errs []validation.Error

	if ev.EntityID == "" {
		errs = append(errs, validation.Violation(serrors.ErrCodeMissingRequiredField,
			"entity_id", "entity_id is required"))
	}
	if !ev.EventType.Valid() {
		errs = append(errs, validation.Violation(serrors.ErrCodeInvalidEnumValue,
			"event_type", "unknown Basel event type "+string(ev.EventType)))
	}
	if !ev.BusinessLine.Valid() {
		errs = append(errs, validation.Violation(serrors.ErrCodeInvalidEnumValue,
			"business_line", "unknown Basel business line "+string(ev.BusinessLine)))
	}
	if ev.OccurrenceDate.After(ev.DiscoveryDate) || ev.DiscoveryDate.After(ev.AccountingDate) {
		errs = append(errs, validation.Violation(serrors.ErrCodeInvalidDateSequence,
			"dates", "dates must satisfy occurrence <= discovery <= accounting"))
	}
	if ev.GrossAmount.Sign() <= 0 {
		errs = append(errs, validation.Violation(serrors.ErrCodeValidation,
			"gross_amount", "gross_amount must be positive"))
	} else if ev.GrossAmount.LessThan(s.threshold) {
		errs = append(errs, validation.Violation(serrors.ErrCodeBelowThreshold,
			"gross_amount", "gross_amount is below the minimum loss threshold "+s.threshold.String()))
	}
	return errs
}

// Ingest validates and persists a batch of loss events. Accepted rows commit
// even when others reject; the result lists every violation.
func (s *Service) Ingest(ctx context.Context, events []loss.Event) (*validation.Result, []loss.Event, error) {
	result := validation.NewResult()
	var accepted []loss.Event

	for _, ev := range events {
		if errs := s.validate(ev); len(errs) > 0 {
			result.Reject(errs...)
			continue
		}
		if ev.ID == "" {
			ev.ID = "le_" + uuid.NewString()
		}
		ev.NetAmount = ev.GrossAmount
		created, err := s.store.CreateLossEvent(ctx, ev)
		if err != nil {
			return nil, nil, err
		}
		result.Accept()
		accepted = append(accepted, created)
	}

	s.log.WithContext(ctx).
		WithField("accepted", result.RecordsAccepted).
		WithField("rejected", result.RecordsRejected).
		Info("loss events ingested")
	return result, accepted, nil
}

// AttachRecovery validates and persists a recovery against its parent event,
// then recomputes the event's net amount.
func (s *Service) AttachRecovery(ctx context.Context, eventID string, rec loss.Recovery) (*validation.Result, error) {
	result := validation.NewResult()

	ev, err := s.store.GetLossEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if rec.Amount.Sign() <= 0 {
		result.Reject(validation.Violation(serrors.ErrCodeValidation,
			"amount", "recovery amount must be positive"))
		return result, nil
	}
	if rec.ReceiptDate.Before(ev.OccurrenceDate) {
		result.Reject(validation.Violation(serrors.ErrCodeInvalidDateSequence,
			"receipt_date", "receipt_date must not precede the loss occurrence date"))
		return result, nil
	}

	existing, err := s.store.ListRecoveries(ctx, eventID)
	if err != nil {
		return nil, err
	}
	running := rec.Amount
	for _, r := range existing {
		running = running.Add(r.Amount)
	}
	if running.GreaterThan(ev.GrossAmount) {
		result.Reject(validation.Violation(serrors.ErrCodeRecoveryExceedsGross,
			"amount", "total recoveries would exceed the gross loss amount"))
		return result, nil
	}

	rec.LossEventID = eventID
	if rec.ID == "" {
		rec.ID = "rc_" + uuid.NewString()
	}
	if _, err := s.store.CreateRecovery(ctx, rec); err != nil {
		return nil, err
	}

	ev.NetAmount = ev.GrossAmount.Sub(running)
	if _, err := s.store.UpdateLossEvent(ctx, ev); err != nil {
		return nil, err
	}

	result.Accept()
	return result, nil
}

// Exclude marks an event excluded from calculations. A complete RBI approval
// is mandatory and opens a 12-month disclosure window.
func (s *Service) Exclude(ctx context.Context, eventID, reason string, approval *loss.RBIApproval) (loss.Event, error) {
	ev, err := s.store.GetLossEvent(ctx, eventID)
	if err != nil {
		return loss.Event{}, err
	}

	if approval == nil {
		return loss.Event{}, serrors.New(serrors.ErrCodeMissingRBIApproval,
			"loss exclusions require RBI approval metadata", 422)
	}
	if !approval.Complete() {
		return loss.Event{}, serrors.New(serrors.ErrCodeIncompleteRBIApproval,
			"RBI approval metadata is incomplete", 422)
	}
	now := time.Now().UTC()
	if approval.ApprovalDate.After(now) {
		return loss.Event{}, serrors.New(serrors.ErrCodeIncompleteRBIApproval,
			"RBI approval date cannot be in the future", 422)
	}

	until := now.AddDate(0, exclusionDisclosureMonths, 0)
	ev.IsExcluded = true
	ev.ExclusionReason = reason
	ev.RBIApprovalReference = approval.ApprovalReference
	ev.DisclosureRequired = true
	ev.DisclosureUntil = &until

	updated, err := s.store.UpdateLossEvent(ctx, ev)
	if err != nil {
		return loss.Event{}, err
	}
	s.log.WithContext(ctx).WithField("event_id", eventID).
		WithField("rbi_reference", approval.ApprovalReference).
		Info("loss event excluded")
	return updated, nil
}

// QueryForCalculation returns non-excluded events for the entity whose
// accounting date falls in [date − horizonYears, date] and whose gross amount
// meets the threshold, ordered by accounting date.
func (s *Service) QueryForCalculation(ctx context.Context, entityID string, horizonYears int, date time.Time) ([]loss.Event, error) {
	from := date.AddDate(-horizonYears, 0, 0)
	events, err := s.store.ListLossEvents(ctx, entityID, from, date)
	if err != nil {
		return nil, err
	}

	out := events[:0]
	for _, ev := range events {
		if ev.IsExcluded {
			continue
		}
		if ev.GrossAmount.LessThan(s.threshold) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Get returns one loss event with its recoveries.
func (s *Service) Get(ctx context.Context, eventID string) (loss.Event, []loss.Recovery, error) {
	ev, err := s.store.GetLossEvent(ctx, eventID)
	if err != nil {
		return loss.Event{}, nil, err
	}
	recs, err := s.store.ListRecoveries(ctx, eventID)
	if err != nil {
		return loss.Event{}, nil, err
	}
	return ev, recs, nil
}
