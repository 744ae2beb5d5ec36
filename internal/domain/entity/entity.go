// Package entity defines the legal-entity hierarchy, consolidation mappings,
// and corporate actions that shape consolidated calculations.
package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConsolidationLevel is the scope of a consolidated calculation.
type ConsolidationLevel string

const (
	LevelConsolidated    ConsolidationLevel = "consolidated"
	LevelSubConsolidated ConsolidationLevel = "sub_consolidated"
	LevelSubsidiary      ConsolidationLevel = "subsidiary"
)

// Entity is one node in the legal-entity forest.
type Entity struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	EntityType         string             `json:"entity_type"`
	ParentEntityID     string             `json:"parent_entity_id,omitempty"`
	ConsolidationLevel ConsolidationLevel `json:"consolidation_level"`
	RegulatoryCode     string             `json:"regulatory_code,omitempty"`
	Active             bool               `json:"active"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ConsolidationMethod is how a child folds into its parent.
type ConsolidationMethod string

const (
	MethodFull         ConsolidationMethod = "full"
	MethodProportional ConsolidationMethod = "proportional"
	MethodEquity       ConsolidationMethod = "equity"
)

// ConsolidationMapping is a time-sliced (parent, child) consolidation rule.
// Only one mapping per pair is effective at any date.
type ConsolidationMapping struct {
	ID                  string              `json:"id"`
	ParentEntityID      string              `json:"parent_entity_id"`
	ChildEntityID       string              `json:"child_entity_id"`
	Method              ConsolidationMethod `json:"method"`
	OwnershipPercentage decimal.Decimal     `json:"ownership_percentage"`
	VotingPercentage    decimal.Decimal     `json:"voting_percentage"`
	EffectiveFrom       time.Time           `json:"effective_from"`
	EffectiveTo         *time.Time          `json:"effective_to,omitempty"`
}

// EffectiveAt reports whether the mapping covers the given date.
func (m ConsolidationMapping) EffectiveAt(date time.Time) bool {
	if date.Before(m.EffectiveFrom) {
		return false
	}
	return m.EffectiveTo == nil || !date.After(*m.EffectiveTo)
}

// ActionType is an M&A corporate-action type.
type ActionType string

const (
	ActionAcquisition   ActionType = "acquisition"
	ActionDivestiture   ActionType = "divestiture"
	ActionMerger        ActionType = "merger"
	ActionSpinOff       ActionType = "spin_off"
	ActionRestructuring ActionType = "restructuring"
)

// ActionStatus is the lifecycle state of a corporate action.
type ActionStatus string

const (
	ActionProposed    ActionStatus = "proposed"
	ActionRBIApproved ActionStatus = "rbi_approved"
	ActionCompleted   ActionStatus = "completed"
	ActionCancelled   ActionStatus = "cancelled"
)

// CorporateAction is an M&A event that adjusts consolidated BI and drives
// Pillar 3 disclosure for a 36-month window.
type CorporateAction struct {
	ID                      string          `json:"id"`
	ActionType              ActionType      `json:"action_type"`
	Status                  ActionStatus    `json:"status"`
	TargetEntityID          string          `json:"target_entity_id"`
	AcquirerEntityID        string          `json:"acquirer_entity_id,omitempty"`
	TransactionValue        decimal.Decimal `json:"transaction_value"`
	OwnershipPercentage     decimal.Decimal `json:"ownership_percentage"`
	EffectiveDate           time.Time       `json:"effective_date"`
	RBIReference            string          `json:"rbi_reference,omitempty"`
	PriorBIInclusionRequired bool           `json:"prior_bi_inclusion_required"`
	BIExclusionRequired     bool            `json:"bi_exclusion_required"`
	DisclosureRequired      bool            `json:"disclosure_required"`
	CreatedAt               time.Time       `json:"created_at"`
}

// ConsolidationResult is the output of a consolidated calculation walk.
type ConsolidationResult struct {
	ParentEntityID   string             `json:"parent_entity_id"`
	Level            ConsolidationLevel `json:"level"`
	CalculationDate  time.Time          `json:"calculation_date"`
	IncludedEntities []string           `json:"included_entities"`
	ExcludedEntities []string           `json:"excluded_entities,omitempty"`
	ConsolidatedBI   decimal.Decimal    `json:"consolidated_bi"`
	Adjustments      []BIAdjustment     `json:"adjustments,omitempty"`
	DisclosureItems  []DisclosureItem   `json:"disclosure_items,omitempty"`
}

// BIAdjustment records one corporate-action adjustment applied to the
// consolidated BI.
type BIAdjustment struct {
	CorporateActionID string          `json:"corporate_action_id"`
	ActionType        ActionType      `json:"action_type"`
	EntityID          string          `json:"entity_id"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
}

// DisclosureItem flags a corporate action inside its disclosure window.
type DisclosureItem struct {
	CorporateActionID string     `json:"corporate_action_id"`
	ActionType        ActionType `json:"action_type"`
	EffectiveDate     time.Time  `json:"effective_date"`
	DisclosureUntil   time.Time  `json:"disclosure_until"`
	Description       string     `json:"description"`
}
