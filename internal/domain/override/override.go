// Package override defines supervisor overrides of calculation outputs and
// their approval lifecycle.
package override

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies what an override replaces.
type Type string

const (
	TypeCapitalAdjustment   Type = "capital_adjustment"
	TypeILMOverride         Type = "ilm_override"
	TypeBICOverride         Type = "bic_override"
	TypeLCOverride          Type = "lc_override"
	TypeMethodologyOverride Type = "methodology_override"
	TypeParameterOverride   Type = "parameter_override"
)

// Valid reports membership in the override-type enum.
func (t Type) Valid() bool {
	switch t {
	case TypeCapitalAdjustment, TypeILMOverride, TypeBICOverride,
		TypeLCOverride, TypeMethodologyOverride, TypeParameterOverride:
		return true
	}
	return false
}

// Status is the lifecycle state of an override.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
	StatusExpired  Status = "expired"
)

// Override is a supervisor-directed replacement of a calculated value.
type Override struct {
	ID                  string           `json:"id"`
	OverrideType        Type             `json:"override_type"`
	EntityID            string           `json:"entity_id"`
	CalculationRunID    string           `json:"calculation_run_id,omitempty"`
	ParameterName       string           `json:"parameter_name,omitempty"`
	OriginalValue       *decimal.Decimal `json:"original_value,omitempty"`
	OverrideValue       decimal.Decimal  `json:"override_value"`
	PercentageAdjustment *decimal.Decimal `json:"percentage_adjustment,omitempty"`
	Reason              string           `json:"reason"`
	Status              Status           `json:"status"`
	EffectiveFrom       time.Time        `json:"effective_from"`
	EffectiveTo         *time.Time       `json:"effective_to,omitempty"`

	ProposedBy        string     `json:"proposed_by"`
	ApprovedBy        string     `json:"approved_by,omitempty"`
	ApprovalReference string     `json:"approval_reference,omitempty"`
	ApprovalDate      *time.Time `json:"approval_date,omitempty"`
	AppliedBy         string     `json:"applied_by,omitempty"`
	AppliedAt         *time.Time `json:"applied_at,omitempty"`

	RBINotificationRequired  bool   `json:"rbi_notification_required"`
	RBINotificationReference string `json:"rbi_notification_reference,omitempty"`
	DisclosureRequired       bool   `json:"disclosure_required"`
	DisclosureUntil          *time.Time `json:"disclosure_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveAt reports whether the override window covers the given date.
func (o Override) EffectiveAt(date time.Time) bool {
	if date.Before(o.EffectiveFrom) {
		return false
	}
	return o.EffectiveTo == nil || !date.After(*o.EffectiveTo)
}

// Matches reports whether the override targets the given entity, date and
// optional run.
func (o Override) Matches(entityID string, date time.Time, runID string) bool {
	if o.EntityID != entityID || !o.EffectiveAt(date) {
		return false
	}
	if o.CalculationRunID != "" && o.CalculationRunID != runID {
		return false
	}
	return true
}

// AppliedValue is the before/after pair recorded into lineage when an
// override replaces a calculated field.
type AppliedValue struct {
	OverrideID    string          `json:"override_id"`
	OverrideType  Type            `json:"override_type"`
	Field         string          `json:"field"`
	OriginalValue decimal.Decimal `json:"original_value"`
	OverrideValue decimal.Decimal `json:"override_value"`
}
