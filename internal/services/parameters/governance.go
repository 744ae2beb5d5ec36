package parameters

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
)

// ProposeRequest opens a governance workflow for one parameter change.
type ProposeRequest struct {
	Model         capital.Methodology
	ParameterName string
	ParameterType param.Type
	Value         param.Value
	EffectiveDate time.Time
	Justification string
	RBIApprovalRequired bool
	Actor         string
}

// Propose creates a new draft version and submits it for review. The version
// number continues the parameter's history and the parent link points at the
// current active version.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (param.Version, error) {
	if req.ParameterName == "" {
		return param.Version{}, serrors.MissingField("parameter_name")
	}
	if req.Actor == "" {
		return param.Version{}, serrors.MissingField("actor")
	}
	if req.Justification == "" {
		return param.Version{}, serrors.MissingField("justification")
	}

	history, err := s.store.ListParameterVersions(ctx, req.Model, req.ParameterName)
	if err != nil {
		return param.Version{}, err
	}

	var (
		previous *param.Value
		parentID string
	)
	versionNumber := 1
	for _, v := range history {
		if v.VersionNumber >= versionNumber {
			versionNumber = v.VersionNumber + 1
		}
		if v.Status == param.StatusActive {
			val := v.Value
			previous = &val
			parentID = v.VersionID
		}
	}

	v := param.Version{
		VersionID:           newVersionID(),
		ModelName:           req.Model,
		ParameterName:       req.ParameterName,
		ParameterType:       req.ParameterType,
		Value:               req.Value,
		PreviousValue:       previous,
		VersionNumber:       versionNumber,
		ParentVersionID:     parentID,
		Status:              param.StatusPendingReview,
		EffectiveDate:       req.EffectiveDate,
		CreatedBy:           req.Actor,
		Justification:       req.Justification,
		ImmutableDiff:       diffHash(previous, req.Value),
		RBIApprovalRequired: req.RBIApprovalRequired,
	}
	v, err = s.store.CreateParameterVersion(ctx, v)
	if err != nil {
		return param.Version{}, err
	}

	if err := s.appendStep(ctx, v, req.Actor, param.RoleMaker, param.ActionPropose,
		param.StatusDraft, param.StatusPendingReview, req.Justification); err != nil {
		return param.Version{}, err
	}

	s.log.WithContext(ctx).WithField("version_id", v.VersionID).
		WithField("parameter", v.ParameterName).Info("parameter change proposed")
	return v, nil
}

// Review records the checker's decision. Approval advances the proposal to
// pending_approval; rejection is terminal.
func (s *Service) Review(ctx context.Context, versionID, actor string, approve bool, comment string) (param.Version, error) {
	v, err := s.store.GetParameterVersion(ctx, versionID)
	if err != nil {
		return param.Version{}, err
	}
	if v.Status != param.StatusPendingReview {
		return param.Version{}, serrors.InvalidTransition(
			serrors.ErrCodeWorkflowInvalidTransition, string(v.Status), "review")
	}
	if actor == v.CreatedBy {
		return param.Version{}, serrors.New(serrors.ErrCodeWorkflowRoleDenied,
			"checker must differ from maker", 403)
	}

	from := v.Status
	action := param.ActionApprove
	if approve {
		v.Status = param.StatusPendingApproval
		v.ReviewedBy = actor
	} else {
		v.Status = param.StatusRejected
		action = param.ActionReject
	}
	v, err = s.store.UpdateParameterVersion(ctx, v)
	if err != nil {
		return param.Version{}, err
	}
	if err := s.appendStep(ctx, v, actor, param.RoleChecker, action, from, v.Status, comment); err != nil {
		return param.Version{}, err
	}
	return v, nil
}

// Approve records the approver's decision on a reviewed proposal. Rejection
// is terminal. When the change requires RBI approval the reference is
// mandatory.
func (s *Service) Approve(ctx context.Context, versionID, actor string, approve bool, rbiReference, comment string) (param.Version, error) {
	v, err := s.store.GetParameterVersion(ctx, versionID)
	if err != nil {
		return param.Version{}, err
	}
	if v.Status != param.StatusPendingApproval {
		return param.Version{}, serrors.InvalidTransition(
			serrors.ErrCodeWorkflowInvalidTransition, string(v.Status), "approve")
	}
	if actor == v.CreatedBy || actor == v.ReviewedBy {
		return param.Version{}, serrors.New(serrors.ErrCodeWorkflowRoleDenied,
			"approver must differ from maker and checker", 403)
	}

	from := v.Status
	action := param.ActionApprove
	if approve {
		if v.RBIApprovalRequired && rbiReference == "" {
			return param.Version{}, serrors.New(serrors.ErrCodeMissingRBIApproval,
				"RBI approval reference is required for this parameter", 422)
		}
		v.Status = param.StatusApproved
		v.ApprovedBy = actor
		v.RBIApprovalReference = rbiReference
	} else {
		v.Status = param.StatusRejected
		action = param.ActionReject
	}
	v, err = s.store.UpdateParameterVersion(ctx, v)
	if err != nil {
		return param.Version{}, err
	}
	if err := s.appendStep(ctx, v, actor, param.RoleApprover, action, from, v.Status, comment); err != nil {
		return param.Version{}, err
	}
	return v, nil
}

// Activate puts an approved version into force. The store swap supersedes the
// previous active version atomically, and the model's active pointer is
// updated in the same call path.
func (s *Service) Activate(ctx context.Context, versionID, actor string) (param.Version, error) {
	v, err := s.store.GetParameterVersion(ctx, versionID)
	if err != nil {
		return param.Version{}, err
	}
	if v.Status != param.StatusApproved {
		return param.Version{}, serrors.InvalidTransition(
			serrors.ErrCodeWorkflowInvalidTransition, string(v.Status), "activate")
	}

	from := v.Status
	v, err = s.store.ActivateVersion(ctx, versionID)
	if err != nil {
		return param.Version{}, err
	}

	if _, err := s.store.SaveConfiguration(ctx, param.Configuration{
		ModelName:       v.ModelName,
		ActiveVersionID: v.VersionID,
	}); err != nil {
		return param.Version{}, err
	}

	if err := s.appendStep(ctx, v, actor, param.RoleActivator, param.ActionActivate,
		from, param.StatusActive, ""); err != nil {
		return param.Version{}, err
	}

	s.log.WithContext(ctx).WithField("version_id", v.VersionID).
		WithField("parameter", v.ParameterName).Info("parameter version activated")
	return v, nil
}

// Rollback opens a fresh proposal whose value mirrors a previous version.
// Nothing is mutated on the target or current versions.
func (s *Service) Rollback(ctx context.Context, targetVersionID, actor, justification string) (param.Version, error) {
	target, err := s.store.GetParameterVersion(ctx, targetVersionID)
	if err != nil {
		return param.Version{}, err
	}
	return s.Propose(ctx, ProposeRequest{
		Model:         target.ModelName,
		ParameterName: target.ParameterName,
		ParameterType: target.ParameterType,
		Value:         target.Value,
		EffectiveDate: time.Now().UTC(),
		Justification: justification,
		Actor:         actor,
	})
}

// WorkflowSteps returns the audit rows of one version's workflow.
func (s *Service) WorkflowSteps(ctx context.Context, versionID string) ([]param.WorkflowStep, error) {
	return s.store.ListWorkflowSteps(ctx, versionID)
}

func (s *Service) appendStep(ctx context.Context, v param.Version, actor string, role param.Role, action param.Action, from, to param.Status, comment string) error {
	_, err := s.store.AppendWorkflowStep(ctx, param.WorkflowStep{
		ID:         newStepID(),
		WorkflowID: v.VersionID,
		VersionID:  v.VersionID,
		Actor:      actor,
		Role:       role,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Comment:    comment,
	})
	return err
}

// AnalyzeImpact classifies the magnitude of a proposed change against the
// current active value.
func (s *Service) AnalyzeImpact(ctx context.Context, model capital.Methodology, name string, proposed param.Value) (param.ImpactAnalysis, error) {
	current, err := s.store.GetActiveVersion(ctx, model, name)
	if err != nil {
		return param.ImpactAnalysis{}, err
	}
	return analyzeImpact(current.ParameterType, current.Value, proposed), nil
}

func analyzeImpact(ptype param.Type, current, proposed param.Value) param.ImpactAnalysis {
	maxDelta := decimal.Zero
	changed := 0

	relDelta := func(from, to decimal.Decimal) decimal.Decimal {
		if from.IsZero() {
			if to.IsZero() {
				return decimal.Zero
			}
			return decimal.NewFromInt(1)
		}
		return to.Sub(from).Div(from).Abs()
	}

	switch {
	case current.Number != nil && proposed.Number != nil:
		if !current.Number.Equal(*proposed.Number) {
			changed = 1
			maxDelta = relDelta(*current.Number, *proposed.Number)
		}
	case current.Mapping != nil && proposed.Mapping != nil:
		for key, from := range current.Mapping {
			to, ok := proposed.Mapping[key]
			if !ok {
				changed++
				continue
			}
			if !from.Equal(to) {
				changed++
				if d := relDelta(from, to); d.GreaterThan(maxDelta) {
					maxDelta = d
				}
			}
		}
		for key := range proposed.Mapping {
			if _, ok := current.Mapping[key]; !ok {
				changed++
			}
		}
	case current.Flag != nil && proposed.Flag != nil:
		if *current.Flag != *proposed.Flag {
			changed = 1
			maxDelta = decimal.NewFromInt(1)
		}
	case current.Integer != nil && proposed.Integer != nil:
		if *current.Integer != *proposed.Integer {
			changed = 1
			maxDelta = relDelta(decimal.NewFromInt(int64(*current.Integer)), decimal.NewFromInt(int64(*proposed.Integer)))
		}
	default:
		changed = 1
		maxDelta = decimal.NewFromInt(1)
	}

	level := param.ImpactLow
	pct5 := decimal.RequireFromString("0.05")
	pct15 := decimal.RequireFromString("0.15")
	pct50 := decimal.RequireFromString("0.5")
	switch {
	case maxDelta.GreaterThanOrEqual(pct50) || (ptype == param.TypeThreshold && maxDelta.GreaterThanOrEqual(pct15)):
		level = param.ImpactCritical
	case maxDelta.GreaterThanOrEqual(pct15) || changed > 3:
		level = param.ImpactHigh
	case maxDelta.GreaterThanOrEqual(pct5) || changed > 1:
		level = param.ImpactMedium
	}

	return param.ImpactAnalysis{
		Level:            level,
		MaxRelativeDelta: maxDelta,
		ChangedKeys:      changed,
		ParameterType:    ptype,
		Summary:          string(level) + " impact: " + current.String() + " -> " + proposed.String(),
	}
}
