// Package capital defines the calculation result types shared by the engines,
// the scheduler, and the lineage subsystem.
package capital

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Methodology identifies a regulatory calculation methodology.
type Methodology string

const (
	SMA Methodology = "sma"
	BIA Methodology = "bia"
	TSA Methodology = "tsa"
)

// ParseMethodology normalizes and validates a methodology label.
func ParseMethodology(s string) (Methodology, error) {
	switch Methodology(strings.ToLower(strings.TrimSpace(s))) {
	case SMA:
		return SMA, nil
	case BIA:
		return BIA, nil
	case TSA:
		return TSA, nil
	}
	return "", fmt.Errorf("unknown methodology %q", s)
}

// ModelVersion is stamped on every result and into the environment hash so a
// run can be tied to the exact engine revision that produced it.
const ModelVersion = "1.0.0"

// Result is the persisted outcome of one calculation run. Immutable after
// creation.
type Result struct {
	RunID           string          `json:"run_id"`
	EntityID        string          `json:"entity_id"`
	CalculationDate time.Time       `json:"calculation_date"`
	Methodology     Methodology     `json:"methodology"`
	BI              decimal.Decimal `json:"business_indicator"`
	BIC             decimal.Decimal `json:"business_indicator_component"`
	LC              decimal.Decimal `json:"loss_component"`
	ILM             decimal.Decimal `json:"internal_loss_multiplier"`
	ORC             decimal.Decimal `json:"operational_risk_capital"`
	RWA             decimal.Decimal `json:"risk_weighted_assets"`
	Bucket          int             `json:"bucket,omitempty"`
	ILMGated        bool            `json:"ilm_gated"`
	ILMGateReason   string          `json:"ilm_gate_reason,omitempty"`
	ParameterVersion string         `json:"parameter_version"`
	ModelVersion    string          `json:"model_version"`
	CreatedAt       time.Time       `json:"created_at"`
}
