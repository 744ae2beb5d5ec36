// Package lineage implements the hash-chained audit trail and the
// reproducibility artifacts required for supervisory review.
package lineage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/audit"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// Service writes and verifies the per-run audit chain. Appends for one run
// are serialized under a per-run lock so the previous-hash read and new-hash
// write are atomic.
type Service struct {
	audits storage.AuditStore
	calcs  storage.CalculationStore
	log    *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService constructs a lineage Service.
func NewService(audits storage.AuditStore, calcs storage.CalculationStore, log *logger.Logger) *Service {
	return &Service{
		audits: audits,
		calcs:  calcs,
		log:    log.WithComponent("lineage"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

// EnvironmentHash hashes the ordered tuple identifying the execution
// environment: code version, parameter snapshot digest, platform, and
// library versions.
func EnvironmentHash(paramSnapshotDigest string) string {
	h := sha256.New()
	h.Write([]byte(capital.ModelVersion))
	h.Write([]byte(paramSnapshotDigest))
	h.Write([]byte(runtime.GOOS + "/" + runtime.GOARCH))
	h.Write([]byte(runtime.Version()))
	return hex.EncodeToString(h.Sum(nil))
}

// append writes one chained record for the run. The caller supplies
// everything except Sequence and ImmutableHash.
func (s *Service) append(ctx context.Context, rec audit.Record) (audit.Record, error) {
	lock := s.runLock(rec.RunID)
	lock.Lock()
	defer lock.Unlock()

	chain, err := s.audits.ListAuditRecords(ctx, rec.RunID)
	if err != nil {
		return audit.Record{}, err
	}
	prev := audit.ZeroDigest
	if len(chain) > 0 {
		prev = chain[len(chain)-1].ImmutableHash
	}

	rec.ID = "ar_" + uuid.NewString()
	rec.Sequence = len(chain)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	content, err := contentBytes(rec)
	if err != nil {
		return audit.Record{}, err
	}
	rec.ImmutableHash = ChainHash(prev, content)

	return s.audits.AppendAuditRecord(ctx, rec)
}

// contentBytes canonicalizes a record with its chain hash cleared; this is
// the exact byte string covered by the chain.
func contentBytes(rec audit.Record) ([]byte, error) {
	rec.ImmutableHash = ""
	return Canonical(rec)
}

// StartRun appends the calculation_started record.
func (s *Service) StartRun(ctx context.Context, runID, initiator string, input interface{}, paramDigest string) error {
	inputHash, err := HashCanonical(input)
	if err != nil {
		return err
	}
	_, err = s.append(ctx, audit.Record{
		RunID:           runID,
		Operation:       audit.OpCalculationStarted,
		Initiator:       initiator,
		InputHash:       inputHash,
		EnvironmentHash: EnvironmentHash(paramDigest),
		ModelVersion:    capital.ModelVersion,
	})
	return err
}

// TrackInputs appends the data_input_tracked record with aggregate counts and
// the included loss IDs (never the raw rows).
func (s *Service) TrackInputs(ctx context.Context, runID string, agg audit.InputAggregates, includedLossIDs []string) error {
	_, err := s.append(ctx, audit.Record{
		RunID:     runID,
		Operation: audit.OpDataInputTracked,
		Initiator: "engine",
		InputHash: agg.InputHash,
		Detail: map[string]interface{}{
			"indicator_count":   agg.IndicatorCount,
			"loss_event_count":  agg.LossEventCount,
			"included_loss_ids": includedLossIDs,
		},
	})
	return err
}

// RecordParameterVersions appends the parameter_versions_recorded record.
func (s *Service) RecordParameterVersions(ctx context.Context, runID string, versions map[string]string) error {
	_, err := s.append(ctx, audit.Record{
		RunID:             runID,
		Operation:         audit.OpParameterVersionsRecorded,
		Initiator:         "engine",
		ParameterVersions: versions,
		ModelVersion:      capital.ModelVersion,
	})
	return err
}

// CompleteRun appends the calculation_completed record with the output hash
// and the intermediates preserved for lineage.
func (s *Service) CompleteRun(ctx context.Context, runID, initiator string, output interface{}, intermediates map[string]string) error {
	outputHash, err := HashCanonical(output)
	if err != nil {
		return err
	}
	detail := make(map[string]interface{}, len(intermediates))
	for k, v := range intermediates {
		detail[k] = v
	}
	_, err = s.append(ctx, audit.Record{
		RunID:      runID,
		Operation:  audit.OpCalculationCompleted,
		Initiator:  initiator,
		OutputHash: outputHash,
		Detail:     detail,
	})
	return err
}

// FailRun appends the calculation_failed record so every run ends in a
// terminal chain entry.
func (s *Service) FailRun(ctx context.Context, runID, initiator, errorCode, message string) error {
	_, err := s.append(ctx, audit.Record{
		RunID:     runID,
		Operation: audit.OpCalculationFailed,
		Initiator: initiator,
		Detail: map[string]interface{}{
			"error_code":    errorCode,
			"error_message": message,
		},
	})
	return err
}

// Chain returns the run's ordered audit rows.
func (s *Service) Chain(ctx context.Context, runID string) ([]audit.Record, error) {
	chain, err := s.audits.ListAuditRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, serrors.NotFound(serrors.ErrCodeLineageNotFound, "no audit chain for run "+runID)
	}
	return chain, nil
}

// VerifyIntegrity recomputes every row's chain hash from its content and its
// predecessor and reports per-row validity; the overall verdict is the
// conjunction.
func (s *Service) VerifyIntegrity(ctx context.Context, runID string) (audit.IntegrityReport, error) {
	chain, err := s.Chain(ctx, runID)
	if err != nil {
		return audit.IntegrityReport{}, err
	}

	report := audit.IntegrityReport{RunID: runID, Overall: true}
	prev := audit.ZeroDigest
	for _, rec := range chain {
		content, err := contentBytes(rec)
		if err != nil {
			return audit.IntegrityReport{}, err
		}
		valid := ChainHash(prev, content) == rec.ImmutableHash
		report.Rows = append(report.Rows, audit.RowIntegrity{
			Sequence: rec.Sequence,
			RecordID: rec.ID,
			Valid:    valid,
		})
		report.Overall = report.Overall && valid
		prev = rec.ImmutableHash
	}
	return report, nil
}

// Lineage assembles the reproducibility view of one completed run.
func (s *Service) Lineage(ctx context.Context, runID string) (audit.LineageRecord, error) {
	chain, err := s.Chain(ctx, runID)
	if err != nil {
		return audit.LineageRecord{}, err
	}

	record := audit.LineageRecord{
		RunID:             runID,
		FinalOutputs:      map[string]string{},
		Intermediates:     map[string]string{},
		ParameterVersions: map[string]string{},
		ModelVersions:     map[string]string{},
	}

	for _, rec := range chain {
		switch rec.Operation {
		case audit.OpCalculationStarted:
			record.EnvironmentHash = rec.EnvironmentHash
		case audit.OpParameterVersionsRecorded:
			for k, v := range rec.ParameterVersions {
				record.ParameterVersions[k] = v
			}
			if rec.ModelVersion != "" {
				record.ModelVersions["engine"] = rec.ModelVersion
			}
		case audit.OpDataInputTracked:
			agg := &audit.InputAggregates{InputHash: rec.InputHash}
			if n, ok := rec.Detail["indicator_count"].(int); ok {
				agg.IndicatorCount = n
			} else if f, ok := rec.Detail["indicator_count"].(float64); ok {
				agg.IndicatorCount = int(f)
			}
			if n, ok := rec.Detail["loss_event_count"].(int); ok {
				agg.LossEventCount = n
			} else if f, ok := rec.Detail["loss_event_count"].(float64); ok {
				agg.LossEventCount = int(f)
			}
			record.InputAggregates = agg
			record.IncludedLossIDs = toStringSlice(rec.Detail["included_loss_ids"])
		case audit.OpCalculationCompleted:
			for k, v := range rec.Detail {
				if sv, ok := v.(string); ok {
					record.Intermediates[k] = sv
				}
			}
		}
	}

	if res, err := s.calcs.GetCalculation(ctx, runID); err == nil {
		record.FinalOutputs["business_indicator"] = res.BI.String()
		record.FinalOutputs["business_indicator_component"] = res.BIC.String()
		record.FinalOutputs["loss_component"] = res.LC.String()
		record.FinalOutputs["internal_loss_multiplier"] = res.ILM.String()
		record.FinalOutputs["operational_risk_capital"] = res.ORC.String()
		record.FinalOutputs["risk_weighted_assets"] = res.RWA.String()
	}

	record.Reproducible = len(record.FinalOutputs) > 0 &&
		len(record.Intermediates) > 0 &&
		len(record.ParameterVersions) > 0 &&
		len(record.ModelVersions) > 0 &&
		record.InputAggregates != nil &&
		record.EnvironmentHash != ""
	return record, nil
}

// Reproducibility scores the presence of the six lineage components.
func (s *Service) Reproducibility(ctx context.Context, runID string) (audit.ReproducibilityReport, error) {
	record, err := s.Lineage(ctx, runID)
	if err != nil {
		return audit.ReproducibilityReport{}, err
	}

	components := map[string]bool{
		"final_outputs":      len(record.FinalOutputs) > 0,
		"intermediates":      len(record.Intermediates) > 0,
		"parameter_versions": len(record.ParameterVersions) > 0,
		"model_versions":     len(record.ModelVersions) > 0,
		"input_aggregates":   record.InputAggregates != nil,
		"environment_hash":   record.EnvironmentHash != "",
	}
	present := 0
	for _, ok := range components {
		if ok {
			present++
		}
	}
	return audit.ReproducibilityReport{
		RunID:      runID,
		Components: components,
		Score:      float64(present) / float64(len(components)),
	}, nil
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
