// Package param defines versioned, governed calculation parameters and the
// maker-checker-approver workflow records around them.
package param

import (
	"fmt"
	"time"

	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/shopspring/decimal"
)

// Type classifies what a parameter controls.
type Type string

const (
	TypeCoefficient Type = "coefficient"
	TypeThreshold   Type = "threshold"
	TypeMultiplier  Type = "multiplier"
	TypeFlag        Type = "flag"
	TypeMapping     Type = "mapping"
	TypeFormula     Type = "formula"
)

// Status is the governance state of one parameter version.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingReview   Status = "pending_review"
	StatusReviewed        Status = "reviewed"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusActive          Status = "active"
	StatusSuperseded      Status = "superseded"
)

// Role is a governance capability.
type Role string

const (
	RoleMaker     Role = "maker"
	RoleChecker   Role = "checker"
	RoleApprover  Role = "approver"
	RoleActivator Role = "activator"
)

// Action is a workflow transition request.
type Action string

const (
	ActionPropose  Action = "propose"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionActivate Action = "activate"
)

// Value is a typed parameter value. Exactly one field is set, matching the
// parameter Type.
type Value struct {
	Number  *decimal.Decimal           `json:"number,omitempty"`
	Flag    *bool                      `json:"flag,omitempty"`
	Integer *int                       `json:"integer,omitempty"`
	Mapping map[string]decimal.Decimal `json:"mapping,omitempty"`
}

// NumberValue wraps a decimal parameter value.
func NumberValue(d decimal.Decimal) Value { return Value{Number: &d} }

// FlagValue wraps a boolean parameter value.
func FlagValue(b bool) Value { return Value{Flag: &b} }

// IntValue wraps an integer parameter value.
func IntValue(i int) Value { return Value{Integer: &i} }

// MappingValue wraps a map parameter value.
func MappingValue(m map[string]decimal.Decimal) Value { return Value{Mapping: m} }

// String renders the set field for diffs and workflow logs.
func (v Value) String() string {
	switch {
	case v.Number != nil:
		return v.Number.String()
	case v.Flag != nil:
		return fmt.Sprintf("%t", *v.Flag)
	case v.Integer != nil:
		return fmt.Sprintf("%d", *v.Integer)
	case v.Mapping != nil:
		return fmt.Sprintf("%v", v.Mapping)
	}
	return "<unset>"
}

// Version is one immutable parameter version record.
type Version struct {
	VersionID       string             `json:"version_id"`
	ModelName       capital.Methodology `json:"model_name"`
	ParameterName   string             `json:"parameter_name"`
	ParameterType   Type               `json:"parameter_type"`
	Value           Value              `json:"value"`
	PreviousValue   *Value             `json:"previous_value,omitempty"`
	VersionNumber   int                `json:"version_number"`
	ParentVersionID string             `json:"parent_version_id,omitempty"`
	Status          Status             `json:"status"`
	EffectiveDate   time.Time          `json:"effective_date"`
	ExpiryDate      *time.Time         `json:"expiry_date,omitempty"`

	CreatedBy     string `json:"created_by"`
	ReviewedBy    string `json:"reviewed_by,omitempty"`
	ApprovedBy    string `json:"approved_by,omitempty"`
	Justification string `json:"justification,omitempty"`

	ImmutableDiff         string `json:"immutable_diff"`
	RBIApprovalRequired   bool   `json:"rbi_approval_required"`
	RBIApprovalReference  string `json:"rbi_approval_reference,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowStep is the audit row appended on every state transition.
type WorkflowStep struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	VersionID  string    `json:"version_id"`
	Actor      string    `json:"actor"`
	Role       Role      `json:"role"`
	Action     Action    `json:"action"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Configuration is the active pointer per model: the currently active version
// set and an optional scheduled successor.
type Configuration struct {
	ModelName       capital.Methodology `json:"model_name"`
	ActiveVersionID string              `json:"active_version_id"`
	NextVersionID   string              `json:"next_version_id,omitempty"`
	NextEffective   *time.Time          `json:"next_effective,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Snapshot is the frozen view of a model's active parameters captured by a
// calculation. Versions maps parameter name to version ID so lineage records
// exactly what was observed.
type Snapshot struct {
	Model    capital.Methodology        `json:"model"`
	Values   map[string]Value           `json:"values"`
	Versions map[string]string          `json:"versions"`
	Digest   string                     `json:"digest"`
}

// Number returns a decimal parameter, or def when absent.
func (s Snapshot) Number(name string, def decimal.Decimal) decimal.Decimal {
	if v, ok := s.Values[name]; ok && v.Number != nil {
		return *v.Number
	}
	return def
}

// Flag returns a boolean parameter, or def when absent.
func (s Snapshot) Flag(name string, def bool) bool {
	if v, ok := s.Values[name]; ok && v.Flag != nil {
		return *v.Flag
	}
	return def
}

// Int returns an integer parameter, or def when absent.
func (s Snapshot) Int(name string, def int) int {
	if v, ok := s.Values[name]; ok && v.Integer != nil {
		return *v.Integer
	}
	return def
}

// Mapping returns a map parameter, or nil when absent.
func (s Snapshot) Mapping(name string) map[string]decimal.Decimal {
	if v, ok := s.Values[name]; ok {
		return v.Mapping
	}
	return nil
}

// ImpactLevel classifies the magnitude of a proposed parameter change.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "LOW"
	ImpactMedium   ImpactLevel = "MEDIUM"
	ImpactHigh     ImpactLevel = "HIGH"
	ImpactCritical ImpactLevel = "CRITICAL"
)

// ImpactAnalysis summarizes a proposed-vs-current comparison.
type ImpactAnalysis struct {
	Level            ImpactLevel     `json:"level"`
	MaxRelativeDelta decimal.Decimal `json:"max_relative_delta"`
	ChangedKeys      int             `json:"changed_keys"`
	ParameterType    Type            `json:"parameter_type"`
	Summary          string          `json:"summary"`
}
