// Package overrides implements the supervisor-override state machine and its
// application into calculation results.
package overrides

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/override"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// appliedDisclosureMonths is the Pillar 3 window opened by a large override.
const appliedDisclosureMonths = 12

var (
	minAdjustment        = decimal.NewFromInt(-100)
	maxAdjustment        = decimal.NewFromInt(1000)
	disclosureAdjustment = decimal.NewFromInt(10)
)

// Service manages override lifecycle and application.
type Service struct {
	store storage.OverrideStore
	log   *logger.Logger
}

// NewService constructs an override Service.
func NewService(store storage.OverrideStore, log *logger.Logger) *Service {
	return &Service{store: store, log: log.WithComponent("overrides")}
}

// Propose records a new override in the proposed state.
func (s *Service) Propose(ctx context.Context, o override.Override) (override.Override, error) {
	if !o.OverrideType.Valid() {
		return override.Override{}, serrors.InvalidEnum("override_type", string(o.OverrideType))
	}
	if o.EntityID == "" {
		return override.Override{}, serrors.MissingField("entity_id")
	}
	if o.Reason == "" {
		return override.Override{}, serrors.MissingField("reason")
	}
	if o.ProposedBy == "" {
		return override.Override{}, serrors.MissingField("proposed_by")
	}
	if o.EffectiveTo != nil && !o.EffectiveTo.After(o.EffectiveFrom) {
		return override.Override{}, serrors.Validation("effective_to must be after effective_from")
	}
	if o.PercentageAdjustment != nil {
		p := *o.PercentageAdjustment
		if p.LessThan(minAdjustment) || p.GreaterThan(maxAdjustment) {
			return override.Override{}, serrors.Validation("percentage_adjustment must lie in [-100, 1000]")
		}
	}

	// ILM overrides always disclose and notify RBI.
	if o.OverrideType == override.TypeILMOverride {
		o.DisclosureRequired = true
		o.RBINotificationRequired = true
	}

	o.ID = "ov_" + uuid.NewString()
	o.Status = override.StatusProposed
	return s.store.CreateOverride(ctx, o)
}

// Approve records the approver's decision. Rejection is terminal.
func (s *Service) Approve(ctx context.Context, id, approvedBy, approvalReference, rbiNotificationRef string, approve bool) (override.Override, error) {
	o, err := s.store.GetOverride(ctx, id)
	if err != nil {
		return override.Override{}, err
	}
	if o.Status != override.StatusProposed {
		return override.Override{}, serrors.InvalidTransition(
			serrors.ErrCodeOverrideInvalidTransition, string(o.Status), "approve")
	}

	if !approve {
		o.Status = override.StatusRejected
		return s.store.UpdateOverride(ctx, o)
	}

	if approvedBy == "" || approvalReference == "" {
		return override.Override{}, serrors.Validation("approval requires approved_by and approval_reference")
	}
	if o.RBINotificationRequired && rbiNotificationRef == "" {
		return override.Override{}, serrors.New(serrors.ErrCodeMissingRBIApproval,
			"RBI notification reference is required for this override", 422)
	}

	now := time.Now().UTC()
	o.Status = override.StatusApproved
	o.ApprovedBy = approvedBy
	o.ApprovalReference = approvalReference
	o.ApprovalDate = &now
	o.RBINotificationReference = rbiNotificationRef
	return s.store.UpdateOverride(ctx, o)
}

// Apply puts an approved override into force. Only permitted once the
// effective window has opened.
func (s *Service) Apply(ctx context.Context, id, appliedBy string) (override.Override, error) {
	o, err := s.store.GetOverride(ctx, id)
	if err != nil {
		return override.Override{}, err
	}
	if o.Status != override.StatusApproved {
		return override.Override{}, serrors.New(serrors.ErrCodeOverrideNotApproved,
			"override must be approved before application", 409)
	}

	now := time.Now().UTC()
	if o.EffectiveFrom.After(now) {
		return override.Override{}, serrors.Validation("override is not yet effective")
	}

	o.Status = override.StatusApplied
	o.AppliedBy = appliedBy
	o.AppliedAt = &now

	// Large adjustments disclose for 12 months beyond application.
	if o.PercentageAdjustment != nil && o.PercentageAdjustment.Abs().GreaterThanOrEqual(disclosureAdjustment) {
		until := now.AddDate(0, appliedDisclosureMonths, 0)
		o.DisclosureRequired = true
		o.DisclosureUntil = &until
	}

	s.log.WithContext(ctx).WithField("override_id", o.ID).
		WithField("override_type", o.OverrideType).Info("override applied")
	return s.store.UpdateOverride(ctx, o)
}

// ExpireOutdated transitions applied overrides whose effective window has
// closed to expired. Run periodically.
func (s *Service) ExpireOutdated(ctx context.Context) (int, error) {
	all, err := s.store.ListOverrides(ctx, "")
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	expired := 0
	for _, o := range all {
		if o.Status != override.StatusApplied || o.EffectiveTo == nil || o.EffectiveTo.After(now) {
			continue
		}
		o.Status = override.StatusExpired
		if _, err := s.store.UpdateOverride(ctx, o); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// Get returns one override.
func (s *Service) Get(ctx context.Context, id string) (override.Override, error) {
	return s.store.GetOverride(ctx, id)
}

// List returns overrides for an entity (all when entityID is empty).
func (s *Service) List(ctx context.Context, entityID string) ([]override.Override, error) {
	return s.store.ListOverrides(ctx, entityID)
}

// ApplyToResult replaces result fields with applied capital-adjustment, ILM,
// BIC and LC overrides matching the run, recording the before/after pairs for
// lineage. Methodology and parameter overrides are not applied to the result.
// The input result is not mutated.
func (s *Service) ApplyToResult(ctx context.Context, res capital.Result) (capital.Result, []override.AppliedValue, error) {
	matching, err := s.store.ListAppliedOverrides(ctx, res.EntityID, res.CalculationDate)
	if err != nil {
		return capital.Result{}, nil, err
	}

	var applied []override.AppliedValue
	for _, o := range matching {
		if !o.Matches(res.EntityID, res.CalculationDate, res.RunID) {
			continue
		}
		switch o.OverrideType {
		case override.TypeCapitalAdjustment:
			applied = append(applied, appliedValue(o, "operational_risk_capital", res.ORC))
			res.ORC = fixedpoint.RoundMoney(o.OverrideValue)
			res.RWA = fixedpoint.RoundMoney(res.ORC.Mul(fixedpoint.MustParse("12.5")))
		case override.TypeILMOverride:
			applied = append(applied, appliedValue(o, "internal_loss_multiplier", res.ILM))
			res.ILM = fixedpoint.RoundRatio(o.OverrideValue)
			res.ORC = fixedpoint.RoundMoney(res.BIC.Mul(res.ILM))
			res.RWA = fixedpoint.RoundMoney(res.ORC.Mul(fixedpoint.MustParse("12.5")))
		case override.TypeBICOverride:
			applied = append(applied, appliedValue(o, "business_indicator_component", res.BIC))
			res.BIC = o.OverrideValue
			res.ORC = fixedpoint.RoundMoney(res.BIC.Mul(res.ILM))
			res.RWA = fixedpoint.RoundMoney(res.ORC.Mul(fixedpoint.MustParse("12.5")))
		case override.TypeLCOverride:
			applied = append(applied, appliedValue(o, "loss_component", res.LC))
			res.LC = o.OverrideValue
		}
	}
	return res, applied, nil
}

func appliedValue(o override.Override, field string, original decimal.Decimal) override.AppliedValue {
	return override.AppliedValue{
		OverrideID:    o.ID,
		OverrideType:  o.OverrideType,
		Field:         field,
		OriginalValue: original,
		OverrideValue: o.OverrideValue,
	}
}
