// Package indicator defines Business Indicator records, one per entity and
// reporting period.
package indicator

import (
	"time"

	"github.com/shopspring/decimal"
)

// BusinessIndicator holds the three BI components reported for one entity in
// one period. Records are created by ingestion and never mutated; a correction
// supersedes the record with a new one.
type BusinessIndicator struct {
	ID              string          `json:"id"`
	EntityID        string          `json:"entity_id"`
	Period          string          `json:"period"` // "2023" or "2023-Q4"
	CalculationDate time.Time       `json:"calculation_date"`
	ILDC            decimal.Decimal `json:"ildc"` // interest, leases, dividends, commissions
	SC              decimal.Decimal `json:"sc"`   // services component
	FC              decimal.Decimal `json:"fc"`   // financial component
	BITotal         decimal.Decimal `json:"bi_total"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Total returns ildc + sc + fc as reported, before regulatory transforms.
func (b BusinessIndicator) Total() decimal.Decimal {
	return b.ILDC.Add(b.SC).Add(b.FC)
}

// GrossIncomeYear is one year of gross income for the legacy BIA methodology.
type GrossIncomeYear struct {
	Year          int             `json:"year"`
	GrossIncome   decimal.Decimal `json:"gross_income"`
	ExcludedItems decimal.Decimal `json:"excluded_items"`
}

// Net returns gross income after prescribed exclusions.
func (g GrossIncomeYear) Net() decimal.Decimal {
	return g.GrossIncome.Sub(g.ExcludedItems)
}

// BusinessLineIncome is one (year, business line) gross-income row for the
// legacy TSA methodology.
type BusinessLineIncome struct {
	Year          int             `json:"year"`
	BusinessLine  string          `json:"business_line"`
	GrossIncome   decimal.Decimal `json:"gross_income"`
	ExcludedItems decimal.Decimal `json:"excluded_items"`
}

// Net returns gross income after prescribed exclusions.
func (b BusinessLineIncome) Net() decimal.Decimal {
	return b.GrossIncome.Sub(b.ExcludedItems)
}
