package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/internal/engine"
	"github.com/logicthinker/orm-capital-engine/internal/services/losses"
	"github.com/logicthinker/orm-capital-engine/internal/services/parameters"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

func newTestService() (*Service, *losses.Service, *storage.Memory) {
	store := storage.NewMemory()
	lossSvc := losses.NewService(store, fixedpoint.MustParse("10000000"), logger.NewDefault("test"))
	return NewService(lossSvc, logger.NewDefault("test")), lossSvc, store
}

func baseBundle() engine.Bundle {
	indicators := []indicator.BusinessIndicator{
		{
			ID:              "bi-2023",
			EntityID:        "BANK001",
			Period:          "2023",
			CalculationDate: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
			ILDC:            fixedpoint.MustParse("61000000000"),
			SC:              fixedpoint.MustParse("23000000000"),
			FC:              fixedpoint.MustParse("16000000000"),
		},
	}
	var lossEvents []loss.Event
	for year := 2019; year <= 2023; year++ {
		for q := 0; q < 4; q++ {
			lossEvents = append(lossEvents, loss.Event{
				ID:             "le-" + time.Date(year, time.Month(3*q+1), 15, 0, 0, 0, 0, time.UTC).Format("2006-01"),
				EntityID:       "BANK001",
				GrossAmount:    fixedpoint.MustParse("100000000"),
				NetAmount:      fixedpoint.MustParse("80000000"),
				AccountingDate: time.Date(year, time.Month(3*q+1), 15, 0, 0, 0, 0, time.UTC),
			})
		}
	}
	return engine.Bundle{
		EntityID:        "BANK001",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Indicators:      indicators,
		Losses:          lossEvents,
	}
}

func TestStressTest(t *testing.T) {
	svc, _, _ := newTestService()
	snap := parameters.DefaultSnapshot(capital.SMA)

	scenarios := []Scenario{
		{ID: "mild", LossIncreasePct: fixedpoint.MustParse("10")},
		{ID: "severe", LossIncreasePct: fixedpoint.MustParse("100"), BIDecreasePct: fixedpoint.MustParse("20")},
		{ID: "recovery_stress", RecoveryHaircutPct: fixedpoint.MustParse("50")},
	}

	res, err := svc.StressTest(context.Background(), capital.SMA, baseBundle(), snap, scenarios)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	require.False(t, res.BaseORC.IsZero())

	// Higher losses must not lower capital.
	mild := res.Outcomes["mild"]
	require.True(t, mild.DeltaORC.GreaterThanOrEqual(decimal.Zero))

	// A recovery haircut raises net losses, so capital must not fall.
	rec := res.Outcomes["recovery_stress"]
	require.True(t, rec.DeltaORC.GreaterThanOrEqual(decimal.Zero))

	require.True(t, res.Metrics.WorstCase.GreaterThanOrEqual(res.Metrics.BestCase))
}

func TestStressDeterministicPerScenario(t *testing.T) {
	svc, _, _ := newTestService()
	snap := parameters.DefaultSnapshot(capital.SMA)
	scenarios := []Scenario{{ID: "s1", LossIncreasePct: fixedpoint.MustParse("25")}}

	first, err := svc.StressTest(context.Background(), capital.SMA, baseBundle(), snap, scenarios)
	require.NoError(t, err)
	second, err := svc.StressTest(context.Background(), capital.SMA, baseBundle(), snap, scenarios)
	require.NoError(t, err)
	require.True(t, first.Outcomes["s1"].ORC.Equal(second.Outcomes["s1"].ORC))
}

func TestSensitivitySweep(t *testing.T) {
	svc, _, _ := newTestService()
	snap := parameters.DefaultSnapshot(capital.SMA)

	res, err := svc.Sensitivity(context.Background(), capital.SMA, baseBundle(), snap,
		engine.ParamLCMultiplier,
		fixedpoint.MustParse("10"), fixedpoint.MustParse("20"), fixedpoint.MustParse("5"))
	require.NoError(t, err)
	require.Len(t, res.Points, 3) // 10, 15, 20

	// A larger LC multiplier cannot reduce ORC.
	require.True(t, res.Points[2].ORC.GreaterThanOrEqual(res.Points[0].ORC))
	require.True(t, res.Volatility.GreaterThanOrEqual(decimal.Zero))
}

func TestSensitivityRejectsBadRange(t *testing.T) {
	svc, _, _ := newTestService()
	snap := parameters.DefaultSnapshot(capital.SMA)

	_, err := svc.Sensitivity(context.Background(), capital.SMA, baseBundle(), snap,
		engine.ParamLCMultiplier,
		fixedpoint.MustParse("10"), fixedpoint.MustParse("20"), fixedpoint.MustParse("0"))
	require.Error(t, err)

	_, err = svc.Sensitivity(context.Background(), capital.SMA, baseBundle(), snap,
		engine.ParamLCMultiplier,
		fixedpoint.MustParse("20"), fixedpoint.MustParse("10"), fixedpoint.MustParse("5"))
	require.Error(t, err)
}

func TestWhatIf(t *testing.T) {
	svc, _, _ := newTestService()
	snap := parameters.DefaultSnapshot(capital.SMA)

	res, err := svc.WhatIf(context.Background(), capital.SMA, baseBundle(), snap,
		map[string]param.Value{
			engine.ParamLCMultiplier: param.NumberValue(fixedpoint.MustParse("20")),
		})
	require.NoError(t, err)
	require.True(t, res.OverlayORC.GreaterThanOrEqual(res.BaseORC))
	require.True(t, res.DeltaORC.Equal(res.OverlayORC.Sub(res.BaseORC)))
}

func TestBackTestCoverage(t *testing.T) {
	svc, lossSvc, _ := newTestService()
	ctx := context.Background()
	snap := parameters.DefaultSnapshot(capital.SMA)

	// Seed realized losses across 2023.
	var events []loss.Event
	for q := 0; q < 4; q++ {
		events = append(events, loss.Event{
			EntityID:       "BANK001",
			EventType:      loss.ExternalFraud,
			BusinessLine:   loss.RetailBanking,
			OccurrenceDate: time.Date(2023, time.Month(3*q+1), 1, 0, 0, 0, 0, time.UTC),
			DiscoveryDate:  time.Date(2023, time.Month(3*q+1), 5, 0, 0, 0, 0, time.UTC),
			AccountingDate: time.Date(2023, time.Month(3*q+1), 15, 0, 0, 0, 0, time.UTC),
			GrossAmount:    fixedpoint.MustParse("100000000"),
		})
	}
	result, _, err := lossSvc.Ingest(ctx, events)
	require.NoError(t, err)
	require.True(t, result.Success)

	quarter := time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)
	builder := func(ctx context.Context, asOf time.Time) (engine.Bundle, error) {
		b := baseBundle()
		b.CalculationDate = asOf
		return b, nil
	}

	res, err := svc.BackTest(ctx, capital.SMA, "BANK001", []time.Time{quarter}, builder, snap)
	require.NoError(t, err)
	require.Len(t, res.Quarters, 1)

	q := res.Quarters[0]
	// Four realized losses of 1e8 net each in the following year.
	require.True(t, q.ActualLosses.Equal(fixedpoint.MustParse("400000000")),
		"actual = %s", q.ActualLosses)
	require.NotNil(t, q.CoverageRatio)
	require.True(t, q.Covered)
	require.Equal(t, 1, res.QuartersCovered)
}
