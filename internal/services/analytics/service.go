// Package analytics implements stress testing, sensitivity sweeps,
// back-testing, and what-if analysis as pure re-invocations of the
// calculation engines over mutated inputs.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
	"github.com/logicthinker/orm-capital-engine/internal/engine"
	"github.com/logicthinker/orm-capital-engine/internal/services/losses"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

var hundred = decimal.NewFromInt(100)

// Service fans engine invocations out over scenario sets.
type Service struct {
	dispatcher *engine.Dispatcher
	losses     *losses.Service
	log        *logger.Logger
}

// NewService constructs an analytics Service.
func NewService(lossSvc *losses.Service, log *logger.Logger) *Service {
	return &Service{
		dispatcher: engine.NewDispatcher(),
		losses:     lossSvc,
		log:        log.WithComponent("analytics"),
	}
}

// Scenario is one stress shock set, in percentages.
type Scenario struct {
	ID                 string          `json:"id"`
	LossIncreasePct    decimal.Decimal `json:"loss_increase_pct"`
	BIDecreasePct      decimal.Decimal `json:"bi_decrease_pct"`
	RecoveryHaircutPct decimal.Decimal `json:"recovery_haircut_pct"`
}

// ScenarioOutcome is one scenario's rerun result.
type ScenarioOutcome struct {
	ScenarioID string          `json:"scenario_id"`
	ORC        decimal.Decimal `json:"orc"`
	RWA        decimal.Decimal `json:"rwa"`
	DeltaORC   decimal.Decimal `json:"delta_orc"`
	DeltaPct   decimal.Decimal `json:"delta_pct"`
}

// RiskMetrics summarizes the scenario distribution of ORC deltas.
type RiskMetrics struct {
	VaR95             decimal.Decimal `json:"var_95"`
	VaR99             decimal.Decimal `json:"var_99"`
	ExpectedShortfall decimal.Decimal `json:"expected_shortfall_95"`
	WorstCase         decimal.Decimal `json:"worst_case"`
	BestCase          decimal.Decimal `json:"best_case"`
	ExtremeScenarios  int             `json:"extreme_scenarios"`
}

// StressResult is the full stress-test output.
type StressResult struct {
	BaseORC  decimal.Decimal            `json:"base_orc"`
	BaseRWA  decimal.Decimal            `json:"base_rwa"`
	Outcomes map[string]ScenarioOutcome `json:"outcomes"`
	Metrics  RiskMetrics                `json:"metrics"`
}

// StressTest reruns the engine per scenario concurrently and derives risk
// metrics from the ORC deltas. Cancellation of ctx cancels every child.
func (s *Service) StressTest(ctx context.Context, method capital.Methodology, base engine.Bundle, snap param.Snapshot, scenarios []Scenario) (*StressResult, error) {
	baseEnv, err := s.runOnce(ctx, method, base, snap)
	if err != nil {
		return nil, err
	}

	result := &StressResult{
		BaseORC:  baseEnv.ORC,
		BaseRWA:  baseEnv.RWA,
		Outcomes: make(map[string]ScenarioOutcome, len(scenarios)),
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	for _, sc := range scenarios {
		wg.Add(1)
		go func(sc Scenario) {
			defer wg.Done()
			env, err := s.runOnce(groupCtx, method, mutateBundle(base, sc), snap)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			delta := env.ORC.Sub(baseEnv.ORC)
			deltaPct := decimal.Zero
			if !baseEnv.ORC.IsZero() {
				deltaPct = delta.Div(baseEnv.ORC).Mul(hundred)
			}
			result.Outcomes[sc.ID] = ScenarioOutcome{
				ScenarioID: sc.ID,
				ORC:        env.ORC,
				RWA:        env.RWA,
				DeltaORC:   delta,
				DeltaPct:   deltaPct,
			}
		}(sc)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	result.Metrics = riskMetrics(result.Outcomes)
	return result, nil
}

// mutateBundle applies the scenario shocks to a copy of the bundle.
func mutateBundle(base engine.Bundle, sc Scenario) engine.Bundle {
	out := base

	if !sc.BIDecreasePct.IsZero() {
		scale := decimal.NewFromInt(1).Sub(sc.BIDecreasePct.Div(hundred))
		out.Indicators = make([]indicator.BusinessIndicator, len(base.Indicators))
		for i, bi := range base.Indicators {
			bi.ILDC = bi.ILDC.Mul(scale)
			bi.SC = bi.SC.Mul(scale)
			bi.FC = bi.FC.Mul(scale)
			out.Indicators[i] = bi
		}
		out.GrossIncome = make([]indicator.GrossIncomeYear, len(base.GrossIncome))
		for i, gi := range base.GrossIncome {
			gi.GrossIncome = gi.GrossIncome.Mul(scale)
			out.GrossIncome[i] = gi
		}
		out.LineIncome = make([]indicator.BusinessLineIncome, len(base.LineIncome))
		for i, li := range base.LineIncome {
			li.GrossIncome = li.GrossIncome.Mul(scale)
			out.LineIncome[i] = li
		}
	}

	if !sc.LossIncreasePct.IsZero() || !sc.RecoveryHaircutPct.IsZero() {
		lossScale := decimal.NewFromInt(1).Add(sc.LossIncreasePct.Div(hundred))
		haircut := sc.RecoveryHaircutPct.Div(hundred)
		out.Losses = make([]loss.Event, len(base.Losses))
		for i, ev := range base.Losses {
			// A recovery haircut adds the lost recovery share back to net.
			recovered := ev.GrossAmount.Sub(ev.NetAmount)
			ev.NetAmount = ev.NetAmount.Add(recovered.Mul(haircut)).Mul(lossScale)
			ev.GrossAmount = ev.GrossAmount.Mul(lossScale)
			out.Losses[i] = ev
		}
	}
	return out
}

func (s *Service) runOnce(ctx context.Context, method capital.Methodology, b engine.Bundle, snap param.Snapshot) (*engine.Envelope, error) {
	env, violations, err := s.dispatcher.Run(ctx, method, b, snap)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		verr := serrors.Validation("analytics input validation failed")
		for _, v := range violations {
			verr = verr.WithDetails(v.Field, v.ErrorMessage)
		}
		return nil, verr
	}
	return env, nil
}

// riskMetrics derives VaR/ES statistics from scenario deltas.
func riskMetrics(outcomes map[string]ScenarioOutcome) RiskMetrics {
	if len(outcomes) == 0 {
		return RiskMetrics{}
	}

	deltas := make([]decimal.Decimal, 0, len(outcomes))
	extreme := 0
	fifty := decimal.NewFromInt(50)
	for _, o := range outcomes {
		deltas = append(deltas, o.DeltaORC)
		if o.DeltaPct.Abs().GreaterThanOrEqual(fifty) {
			extreme++
		}
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].LessThan(deltas[j]) })

	percentile := func(p float64) decimal.Decimal {
		idx := int(float64(len(deltas)-1) * p)
		return deltas[idx]
	}

	var95 := percentile(0.95)
	// Expected shortfall: mean of the tail at or beyond VaR95.
	tail := make([]decimal.Decimal, 0)
	for _, d := range deltas {
		if d.GreaterThanOrEqual(var95) {
			tail = append(tail, d)
		}
	}
	es := decimal.Zero
	for _, d := range tail {
		es = es.Add(d)
	}
	if len(tail) > 0 {
		es = es.Div(decimal.NewFromInt(int64(len(tail))))
	}

	return RiskMetrics{
		VaR95:             var95,
		VaR99:             percentile(0.99),
		ExpectedShortfall: es,
		WorstCase:         deltas[len(deltas)-1],
		BestCase:          deltas[0],
		ExtremeScenarios:  extreme,
	}
}

// SensitivityPoint is one sweep sample.
type SensitivityPoint struct {
	Value decimal.Decimal `json:"value"`
	ORC   decimal.Decimal `json:"orc"`
}

// SensitivityResult is the sweep output with its volatility summary.
type SensitivityResult struct {
	Parameter  string             `json:"parameter"`
	BaseORC    decimal.Decimal    `json:"base_orc"`
	Points     []SensitivityPoint `json:"points"`
	Volatility decimal.Decimal    `json:"volatility"`
}

// Sensitivity sweeps one numeric parameter from min to max in step
// increments, rerunning the engine at each value.
func (s *Service) Sensitivity(ctx context.Context, method capital.Methodology, b engine.Bundle, snap param.Snapshot, parameter string, min, max, step decimal.Decimal) (*SensitivityResult, error) {
	if step.Sign() <= 0 {
		return nil, serrors.Validation("step_size must be positive")
	}
	if max.LessThan(min) {
		return nil, serrors.Validation("max must not be less than min")
	}

	baseEnv, err := s.runOnce(ctx, method, b, snap)
	if err != nil {
		return nil, err
	}

	result := &SensitivityResult{Parameter: parameter, BaseORC: baseEnv.ORC}
	for v := min; !v.GreaterThan(max); v = v.Add(step) {
		overlay := param.Snapshot{
			Model:    snap.Model,
			Values:   map[string]param.Value{},
			Versions: snap.Versions,
			Digest:   snap.Digest,
		}
		for k, val := range snap.Values {
			overlay.Values[k] = val
		}
		overlay.Values[parameter] = param.NumberValue(v)

		env, err := s.runOnce(ctx, method, b, overlay)
		if err != nil {
			return nil, err
		}
		result.Points = append(result.Points, SensitivityPoint{Value: v, ORC: env.ORC})
	}

	result.Volatility = volatility(result.Points, baseEnv.ORC)
	return result, nil
}

// volatility is the standard deviation of ORC/ORC_base across the sweep.
func volatility(points []SensitivityPoint, baseORC decimal.Decimal) decimal.Decimal {
	if len(points) == 0 || baseORC.IsZero() {
		return decimal.Zero
	}
	ratios := make([]decimal.Decimal, len(points))
	mean := decimal.Zero
	for i, p := range points {
		ratios[i] = p.ORC.Div(baseORC)
		mean = mean.Add(ratios[i])
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(ratios))))

	variance := decimal.Zero
	for _, r := range ratios {
		d := r.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(ratios))))

	// Newton iteration for the square root in decimal space.
	if variance.IsZero() {
		return decimal.Zero
	}
	guess := variance
	half := decimal.RequireFromString("0.5")
	for i := 0; i < 32; i++ {
		guess = guess.Add(variance.Div(guess)).Mul(half)
	}
	return guess.Round(8)
}

// WhatIfResult reports one overlay comparison.
type WhatIfResult struct {
	BaseORC     decimal.Decimal `json:"base_orc"`
	OverlayORC  decimal.Decimal `json:"overlay_orc"`
	BaseRWA     decimal.Decimal `json:"base_rwa"`
	OverlayRWA  decimal.Decimal `json:"overlay_rwa"`
	DeltaORC    decimal.Decimal `json:"delta_orc"`
	DeltaPctORC decimal.Decimal `json:"delta_pct_orc"`
}

// WhatIf applies a parameter overlay for a single calculation and reports the
// delta against the base.
func (s *Service) WhatIf(ctx context.Context, method capital.Methodology, b engine.Bundle, snap param.Snapshot, overlay map[string]param.Value) (*WhatIfResult, error) {
	baseEnv, err := s.runOnce(ctx, method, b, snap)
	if err != nil {
		return nil, err
	}

	merged := param.Snapshot{
		Model:    snap.Model,
		Values:   map[string]param.Value{},
		Versions: snap.Versions,
		Digest:   snap.Digest,
	}
	for k, v := range snap.Values {
		merged.Values[k] = v
	}
	for k, v := range overlay {
		merged.Values[k] = v
	}

	overlayEnv, err := s.runOnce(ctx, method, b, merged)
	if err != nil {
		return nil, err
	}

	delta := overlayEnv.ORC.Sub(baseEnv.ORC)
	deltaPct := decimal.Zero
	if !baseEnv.ORC.IsZero() {
		deltaPct = delta.Div(baseEnv.ORC).Mul(hundred)
	}
	return &WhatIfResult{
		BaseORC:     baseEnv.ORC,
		OverlayORC:  overlayEnv.ORC,
		BaseRWA:     baseEnv.RWA,
		OverlayRWA:  overlayEnv.RWA,
		DeltaORC:    delta,
		DeltaPctORC: deltaPct,
	}, nil
}

// BackTestQuarter is one quarter's comparison of predicted capital against
// the losses actually realized in the following year.
type BackTestQuarter struct {
	Quarter       time.Time        `json:"quarter"`
	PredictedORC  decimal.Decimal  `json:"predicted_orc"`
	ActualLosses  decimal.Decimal  `json:"actual_losses"`
	CoverageRatio *decimal.Decimal `json:"coverage_ratio,omitempty"`
	Covered       bool             `json:"covered"`
}

// BackTestResult aggregates the quarterly comparisons.
type BackTestResult struct {
	EntityID        string            `json:"entity_id"`
	Quarters        []BackTestQuarter `json:"quarters"`
	QuartersCovered int               `json:"quarters_covered"`
}

// BundleBuilder assembles the calculation bundle as of a historical date.
type BundleBuilder func(ctx context.Context, asOf time.Time) (engine.Bundle, error)

// BackTest reruns the engine per quarter and compares predicted capital to
// the net losses realized over the subsequent twelve months. Actual losses
// use the same non-excluded, threshold-filtered basis the loss component
// uses.
func (s *Service) BackTest(ctx context.Context, method capital.Methodology, entityID string, quarters []time.Time, build BundleBuilder, snap param.Snapshot) (*BackTestResult, error) {
	result := &BackTestResult{EntityID: entityID}

	for _, quarter := range quarters {
		bundle, err := build(ctx, quarter)
		if err != nil {
			return nil, err
		}
		env, err := s.runOnce(ctx, method, bundle, snap)
		if err != nil {
			return nil, err
		}

		realized, err := s.losses.QueryForCalculation(ctx, entityID, 1, quarter.AddDate(1, 0, 0))
		if err != nil {
			return nil, err
		}
		actual := decimal.Zero
		for _, ev := range realized {
			if ev.AccountingDate.After(quarter) {
				actual = actual.Add(ev.NetAmount)
			}
		}

		q := BackTestQuarter{
			Quarter:      quarter,
			PredictedORC: env.ORC,
			ActualLosses: actual,
			Covered:      env.ORC.GreaterThanOrEqual(actual),
		}
		if !actual.IsZero() {
			ratio := env.ORC.Div(actual).Round(4)
			q.CoverageRatio = &ratio
		}
		if q.Covered {
			result.QuartersCovered++
		}
		result.Quarters = append(result.Quarters, q)
	}
	return result, nil
}
