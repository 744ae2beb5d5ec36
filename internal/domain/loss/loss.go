// Package loss defines operational loss events, recoveries, and the Basel
// taxonomy they are classified under.
package loss

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is a Basel II/III operational-risk event type.
type EventType string

const (
	InternalFraud           EventType = "internal_fraud"
	ExternalFraud           EventType = "external_fraud"
	EmploymentPractices     EventType = "employment_practices"
	ClientsProductsBusiness EventType = "clients_products_business_practices"
	DamagePhysicalAssets    EventType = "damage_to_physical_assets"
	BusinessDisruption      EventType = "business_disruption_system_failures"
	ExecutionDelivery       EventType = "execution_delivery_process_management"
)

// EventTypes enumerates the seven Basel event types.
var EventTypes = []EventType{
	InternalFraud,
	ExternalFraud,
	EmploymentPractices,
	ClientsProductsBusiness,
	DamagePhysicalAssets,
	BusinessDisruption,
	ExecutionDelivery,
}

// Valid reports membership in the Basel event-type enum.
func (e EventType) Valid() bool {
	for _, t := range EventTypes {
		if e == t {
			return true
		}
	}
	return false
}

// BusinessLine is a Basel business line.
type BusinessLine string

const (
	CorporateFinance  BusinessLine = "corporate_finance"
	TradingSales      BusinessLine = "trading_sales"
	RetailBanking     BusinessLine = "retail_banking"
	CommercialBanking BusinessLine = "commercial_banking"
	PaymentSettlement BusinessLine = "payment_settlement"
	AgencyServices    BusinessLine = "agency_services"
	AssetManagement   BusinessLine = "asset_management"
	RetailBrokerage   BusinessLine = "retail_brokerage"
)

// BusinessLines enumerates the eight Basel business lines.
var BusinessLines = []BusinessLine{
	CorporateFinance,
	TradingSales,
	RetailBanking,
	CommercialBanking,
	PaymentSettlement,
	AgencyServices,
	AssetManagement,
	RetailBrokerage,
}

// Valid reports membership in the Basel business-line enum.
func (b BusinessLine) Valid() bool {
	for _, l := range BusinessLines {
		if b == l {
			return true
		}
	}
	return false
}

// Event is an operational loss event. Mutations after creation are limited to
// attaching recoveries and toggling exclusion with RBI approval metadata.
type Event struct {
	ID             string          `json:"id"`
	EntityID       string          `json:"entity_id"`
	EventType      EventType       `json:"event_type"`
	BusinessLine   BusinessLine    `json:"business_line"`
	OccurrenceDate time.Time       `json:"occurrence_date"`
	DiscoveryDate  time.Time       `json:"discovery_date"`
	AccountingDate time.Time       `json:"accounting_date"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`

	IsExcluded           bool       `json:"is_excluded"`
	ExclusionReason      string     `json:"exclusion_reason,omitempty"`
	RBIApprovalReference string     `json:"rbi_approval_reference,omitempty"`
	DisclosureRequired   bool       `json:"disclosure_required"`
	DisclosureUntil      *time.Time `json:"disclosure_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recovery is a partial recovery against a loss event. Never deleted.
type Recovery struct {
	ID           string          `json:"id"`
	LossEventID  string          `json:"loss_event_id"`
	Amount       decimal.Decimal `json:"amount"`
	ReceiptDate  time.Time       `json:"receipt_date"`
	RecoveryType string          `json:"recovery_type,omitempty"` // insurance, legal, other
	CreatedAt    time.Time       `json:"created_at"`
}

// RBIApproval carries the supervisory approval metadata required to exclude a
// loss event from the calculation data set.
type RBIApproval struct {
	ApprovalReference string    `json:"approval_reference"`
	ApprovalDate      time.Time `json:"approval_date"`
	ApprovingAuthority string   `json:"approving_authority"`
	ApprovalReason    string    `json:"approval_reason"`
}

// Complete reports whether every approval field is populated.
func (a RBIApproval) Complete() bool {
	return a.ApprovalReference != "" &&
		!a.ApprovalDate.IsZero() &&
		a.ApprovingAuthority != "" &&
		a.ApprovalReason != ""
}
