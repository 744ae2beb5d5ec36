// Package calculations orchestrates one capital calculation end to end:
// parameter snapshot, input assembly, engine dispatch, override application,
// result persistence, and lineage.
package calculations

import (
	"context"
	"strconv"
	"time"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/audit"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/domain/override"
	"github.com/logicthinker/orm-capital-engine/internal/engine"
	"github.com/logicthinker/orm-capital-engine/internal/services/lineage"
	"github.com/logicthinker/orm-capital-engine/internal/services/losses"
	"github.com/logicthinker/orm-capital-engine/internal/services/overrides"
	"github.com/logicthinker/orm-capital-engine/internal/services/parameters"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// Service runs calculations. All engine work is CPU-only between store
// boundaries; a partial result is never persisted.
type Service struct {
	store      storage.Store
	params     *parameters.Service
	losses     *losses.Service
	overrides  *overrides.Service
	lineage    *lineage.Service
	dispatcher *engine.Dispatcher
	log        *logger.Logger
}

// NewService constructs a calculation Service.
func NewService(store storage.Store, params *parameters.Service, lossSvc *losses.Service, overrideSvc *overrides.Service, lineageSvc *lineage.Service, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		params:     params,
		losses:     lossSvc,
		overrides:  overrideSvc,
		lineage:    lineageSvc,
		dispatcher: engine.NewDispatcher(),
		log:        log.WithComponent("calculations"),
	}
}

// Run executes one calculation under the given run ID. Every run terminates
// its audit chain: success appends calculation_completed, any failure appends
// calculation_failed.
func (s *Service) Run(ctx context.Context, req job.Request, runID string) (*capital.Result, error) {
	res, err := s.run(ctx, req, runID)
	if err != nil {
		initiator := req.Initiator
		if initiator == "" {
			initiator = "scheduler"
		}
		if ferr := s.lineage.FailRun(ctx, runID, initiator, string(serrors.CodeOf(err)), err.Error()); ferr != nil {
			s.log.WithContext(ctx).WithField("run_id", runID).
				WithError(ferr).Error("failed to append calculation_failed record")
		}
		return nil, err
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, req job.Request, runID string) (*capital.Result, error) {
	initiator := req.Initiator
	if initiator == "" {
		initiator = "scheduler"
	}

	snap, err := s.params.GetActive(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}
	snap = parameters.Overlay(snap, req.Parameters)

	bundle := engine.Bundle{
		EntityID:        req.EntityID,
		CalculationDate: req.CalculationDate,
		GrossIncome:     req.GrossIncome,
		LineIncome:      req.LineIncome,
	}

	if req.ModelName == capital.SMA {
		indicators, err := s.store.ListBusinessIndicators(ctx, req.EntityID, req.CalculationDate, 3)
		if err != nil {
			return nil, err
		}
		horizon := snap.Int(engine.ParamLossHorizonYears, 10)
		lossEvents, err := s.losses.QueryForCalculation(ctx, req.EntityID, horizon, req.CalculationDate)
		if err != nil {
			return nil, err
		}
		bundle.Indicators = indicators
		bundle.Losses = lossEvents
	}

	if err := s.lineage.StartRun(ctx, runID, initiator, bundle, snap.Digest); err != nil {
		return nil, err
	}

	inputHash, err := lineage.HashCanonical(bundle)
	if err != nil {
		return nil, err
	}
	lossIDs := make([]string, 0, len(bundle.Losses))
	for _, ev := range bundle.Losses {
		lossIDs = append(lossIDs, ev.ID)
	}
	if err := s.lineage.TrackInputs(ctx, runID, audit.InputAggregates{
		IndicatorCount: len(bundle.Indicators),
		LossEventCount: len(bundle.Losses),
		InputHash:      inputHash,
	}, lossIDs); err != nil {
		return nil, err
	}
	if err := s.lineage.RecordParameterVersions(ctx, runID, snap.Versions); err != nil {
		return nil, err
	}

	env, violations, err := s.dispatcher.Run(ctx, req.ModelName, bundle, snap)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		verr := serrors.Validation("calculation input validation failed")
		for _, v := range violations {
			verr = verr.WithDetails(v.Field, v.ErrorMessage)
		}
		return nil, verr
	}

	result := buildResult(runID, req, env, snap.Digest)

	result, applied, err := s.overrides.ApplyToResult(ctx, result)
	if err != nil {
		return nil, err
	}

	persisted, err := s.store.CreateCalculation(ctx, result)
	if err != nil {
		return nil, err
	}

	intermediates := intermediatesOf(env, applied)
	if err := s.lineage.CompleteRun(ctx, runID, initiator, persisted, intermediates); err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).
		WithField("run_id", runID).
		WithField("methodology", req.ModelName).
		WithField("orc", persisted.ORC.String()).
		Info("calculation completed")
	return &persisted, nil
}

func buildResult(runID string, req job.Request, env *engine.Envelope, paramDigest string) capital.Result {
	res := capital.Result{
		RunID:            runID,
		EntityID:         req.EntityID,
		CalculationDate:  req.CalculationDate,
		Methodology:      req.ModelName,
		ORC:              env.ORC,
		RWA:              env.RWA,
		ParameterVersion: paramDigest,
		ModelVersion:     capital.ModelVersion,
		CreatedAt:        time.Now().UTC(),
	}
	if env.SMA != nil {
		res.BI = env.SMA.BIAverage
		res.BIC = env.SMA.BIC
		res.LC = env.SMA.LC
		res.ILM = env.SMA.ILM
		res.Bucket = env.SMA.Bucket
		res.ILMGated = env.SMA.ILMGated
		res.ILMGateReason = env.SMA.ILMGateReason
	}
	return res
}

func intermediatesOf(env *engine.Envelope, applied []override.AppliedValue) map[string]string {
	out := map[string]string{
		"orc": env.ORC.String(),
		"rwa": env.RWA.String(),
	}
	switch {
	case env.SMA != nil:
		out["bi_current"] = env.SMA.BICurrent.String()
		out["bi_three_year_avg"] = env.SMA.BIAverage.String()
		out["bic"] = env.SMA.BIC.String()
		out["lc"] = env.SMA.LC.String()
		out["ilm"] = env.SMA.ILM.String()
		out["avg_annual_losses"] = env.SMA.AvgAnnualLosses.String()
	case env.BIA != nil:
		out["average_gi"] = env.BIA.AverageGI.String()
		out["alpha"] = env.BIA.Alpha.String()
	case env.TSA != nil:
		for _, y := range env.TSA.Years {
			out["year_"+strconv.Itoa(y.Year)] = y.Total.String()
		}
	}
	for _, a := range applied {
		out["override_"+a.Field+"_original"] = a.OriginalValue.String()
		out["override_"+a.Field+"_value"] = a.OverrideValue.String()
	}
	return out
}
