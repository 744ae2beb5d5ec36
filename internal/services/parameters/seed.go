package parameters

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/internal/engine"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
)

// seeded carries one default parameter definition.
type seeded struct {
	name  string
	ptype param.Type
	value param.Value
}

// smaDefaults are the RBI Basel III SMA parameters seeded on first start.
func smaDefaults() []seeded {
	return []seeded{
		{engine.ParamMarginalCoefficients, param.TypeCoefficient, param.MappingValue(map[string]decimal.Decimal{
			"bucket_1": fixedpoint.MustParse("0.12"),
			"bucket_2": fixedpoint.MustParse("0.15"),
			"bucket_3": fixedpoint.MustParse("0.18"),
		})},
		{engine.ParamBucketThresholds, param.TypeThreshold, param.MappingValue(map[string]decimal.Decimal{
			"bucket_1_2": decimal.New(8, 10),  // ₹8,000 crore
			"bucket_2_3": decimal.New(24, 11), // ₹2,40,000 crore
		})},
		{engine.ParamLCMultiplier, param.TypeMultiplier, param.NumberValue(decimal.NewFromInt(15))},
		{engine.ParamRWAMultiplier, param.TypeMultiplier, param.NumberValue(fixedpoint.MustParse("12.5"))},
		{engine.ParamMinLossThreshold, param.TypeThreshold, param.NumberValue(decimal.New(1, 7))}, // ₹1,00,000
		{engine.ParamNationalDiscretion, param.TypeFlag, param.FlagValue(false)},
		{engine.ParamMinDataQualityYears, param.TypeThreshold, param.IntValue(5)},
		{engine.ParamLossHorizonYears, param.TypeThreshold, param.IntValue(10)},
	}
}

// biaDefaults are the legacy Basic Indicator Approach parameters.
func biaDefaults() []seeded {
	return []seeded{
		{engine.ParamAlpha, param.TypeCoefficient, param.NumberValue(fixedpoint.MustParse("0.15"))},
		{engine.ParamLookbackYears, param.TypeThreshold, param.IntValue(3)},
		{engine.ParamRWAMultiplier, param.TypeMultiplier, param.NumberValue(fixedpoint.MustParse("12.5"))},
	}
}

// tsaDefaults are the legacy Standardized Approach parameters.
func tsaDefaults() []seeded {
	return []seeded{
		{engine.ParamBetaFactors, param.TypeMapping, param.MappingValue(map[string]decimal.Decimal{
			"retail_banking":     fixedpoint.MustParse("0.12"),
			"commercial_banking": fixedpoint.MustParse("0.15"),
			"trading_sales":      fixedpoint.MustParse("0.18"),
			"corporate_finance":  fixedpoint.MustParse("0.18"),
			"payment_settlement": fixedpoint.MustParse("0.18"),
			"agency_services":    fixedpoint.MustParse("0.15"),
			"asset_management":   fixedpoint.MustParse("0.12"),
			"retail_brokerage":   fixedpoint.MustParse("0.12"),
		})},
		{engine.ParamAllowNegativeOffset, param.TypeFlag, param.FlagValue(true)},
		{engine.ParamFloorAnnualAtZero, param.TypeFlag, param.FlagValue(true)},
		{engine.ParamLookbackYears, param.TypeThreshold, param.IntValue(3)},
		{engine.ParamRWAMultiplier, param.TypeMultiplier, param.NumberValue(fixedpoint.MustParse("12.5"))},
	}
}

func defaultsFor(model capital.Methodology) []seeded {
	switch model {
	case capital.SMA:
		return smaDefaults()
	case capital.BIA:
		return biaDefaults()
	case capital.TSA:
		return tsaDefaults()
	}
	return nil
}

// Seed creates and activates the default parameter versions for every model
// that has no active set yet. Idempotent.
func (s *Service) Seed(ctx context.Context) error {
	for _, model := range []capital.Methodology{capital.SMA, capital.BIA, capital.TSA} {
		for _, def := range defaultsFor(model) {
			if _, err := s.store.GetActiveVersion(ctx, model, def.name); err == nil {
				continue
			}
			v := param.Version{
				VersionID:     newVersionID(),
				ModelName:     model,
				ParameterName: def.name,
				ParameterType: def.ptype,
				Value:         def.value,
				VersionNumber: 1,
				Status:        param.StatusActive,
				EffectiveDate: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), // RBI SMA go-live
				CreatedBy:     "system_seed",
				Justification: "RBI default parameter set",
				ImmutableDiff: diffHash(nil, def.value),
			}
			if _, err := s.store.CreateParameterVersion(ctx, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// DefaultSnapshot builds a parameter snapshot from the seeded defaults
// without a store. Used by tests and what-if overlays.
func DefaultSnapshot(model capital.Methodology) param.Snapshot {
	snap := param.Snapshot{
		Model:    model,
		Values:   make(map[string]param.Value),
		Versions: make(map[string]string),
	}
	for _, def := range defaultsFor(model) {
		snap.Values[def.name] = def.value
		snap.Versions[def.name] = "seed:" + def.name
	}
	snap.Digest = snapshotDigest(snap)
	return snap
}
