package lineage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/audit"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

func newTestService() (*Service, *storage.Memory) {
	store := storage.NewMemory()
	return NewService(store, store, logger.NewDefault("test")), store
}

func TestCanonicalIdempotence(t *testing.T) {
	input := map[string]interface{}{
		"zeta":  1,
		"alpha": []string{"b", "a"},
		"m":     map[string]int{"y": 2, "x": 1},
	}

	first, err := Canonical(input)
	require.NoError(t, err)

	var decoded interface{}
	require.NoError(t, json.Unmarshal(first, &decoded))
	second, err := Canonical(decoded)
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
}

func TestCanonicalKeyOrderIndependence(t *testing.T) {
	a := map[string]int{"x": 1, "y": 2, "z": 3}
	b := map[string]int{"z": 3, "y": 2, "x": 1}

	ha, err := HashCanonical(a)
	require.NoError(t, err)
	hb, err := HashCanonical(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
}

func writeFullChain(t *testing.T, svc *Service, runID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, svc.StartRun(ctx, runID, "tester", map[string]string{"entity": "BANK001"}, "digest123"))
	require.NoError(t, svc.TrackInputs(ctx, runID, audit.InputAggregates{
		IndicatorCount: 3,
		LossEventCount: 20,
		InputHash:      "abc",
	}, []string{"le_1", "le_2"}))
	require.NoError(t, svc.RecordParameterVersions(ctx, runID, map[string]string{
		"lc_multiplier": "pv_1",
	}))
	require.NoError(t, svc.CompleteRun(ctx, runID, "tester",
		map[string]string{"orc": "100.00"},
		map[string]string{"bic": "12600000000", "ilm": "0.7859"}))
}

func TestChainAndIntegrity(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	runID := "run-1"

	writeFullChain(t, svc, runID)

	chain, err := svc.Chain(ctx, runID)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	// Sequences are total-ordered and the chain seeds from the zero digest.
	prev := audit.ZeroDigest
	for i, rec := range chain {
		require.Equal(t, i, rec.Sequence)
		require.NotEmpty(t, rec.ImmutableHash)
		require.NotEqual(t, prev, rec.ImmutableHash)
		prev = rec.ImmutableHash
	}

	report, err := svc.VerifyIntegrity(ctx, runID)
	require.NoError(t, err)
	require.True(t, report.Overall)
	require.Len(t, report.Rows, 4)
	for _, row := range report.Rows {
		require.True(t, row.Valid)
	}
}

func TestIntegrityDetectsTampering(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	runID := "run-tamper"

	writeFullChain(t, svc, runID)

	// Forge a row appended outside the service: hash does not cover content.
	_, err := store.AppendAuditRecord(ctx, audit.Record{
		ID:            "ar_forged",
		RunID:         runID,
		Sequence:      4,
		Operation:     audit.OpCalculationCompleted,
		Initiator:     "attacker",
		ImmutableHash: "deadbeef",
	})
	require.NoError(t, err)

	report, err := svc.VerifyIntegrity(ctx, runID)
	require.NoError(t, err)
	require.False(t, report.Overall)
	require.False(t, report.Rows[4].Valid)
}

func TestFailedRunStillTerminates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	runID := "run-failed"

	require.NoError(t, svc.StartRun(ctx, runID, "tester", map[string]string{"entity": "BANK001"}, "digest123"))
	require.NoError(t, svc.FailRun(ctx, runID, "tester", "INTERNAL_SERVER_ERROR", "boom"))

	chain, err := svc.Chain(ctx, runID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, audit.OpCalculationFailed, chain[1].Operation)

	report, err := svc.VerifyIntegrity(ctx, runID)
	require.NoError(t, err)
	require.True(t, report.Overall)
}

func TestLineageAndReproducibility(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	runID := "run-repro"

	writeFullChain(t, svc, runID)
	_, err := store.CreateCalculation(ctx, capital.Result{
		RunID:       runID,
		EntityID:    "BANK001",
		Methodology: capital.SMA,
		BI:          fixedpoint.MustParse("100000000000"),
		BIC:         fixedpoint.MustParse("12600000000"),
		LC:          fixedpoint.MustParse("6000000000"),
		ILM:         fixedpoint.MustParse("0.7859"),
		ORC:         fixedpoint.MustParse("9902340000"),
		RWA:         fixedpoint.MustParse("123779250000"),
	})
	require.NoError(t, err)

	record, err := svc.Lineage(ctx, runID)
	require.NoError(t, err)
	require.True(t, record.Reproducible)
	require.Equal(t, "0.7859", record.FinalOutputs["internal_loss_multiplier"])
	require.Equal(t, []string{"le_1", "le_2"}, record.IncludedLossIDs)
	require.Equal(t, 3, record.InputAggregates.IndicatorCount)

	repro, err := svc.Reproducibility(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, 1.0, repro.Score)
}

func TestReproducibilityPartialScore(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	runID := "run-partial"

	// Only started and failed: most components missing.
	require.NoError(t, svc.StartRun(ctx, runID, "tester", map[string]string{}, "digest"))
	require.NoError(t, svc.FailRun(ctx, runID, "tester", "INSUFFICIENT_DATA", "no periods"))

	repro, err := svc.Reproducibility(ctx, runID)
	require.NoError(t, err)
	require.Less(t, repro.Score, 1.0)
	require.True(t, repro.Components["environment_hash"])
	require.False(t, repro.Components["final_outputs"])
}

func TestChainNotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Chain(context.Background(), "missing-run")
	require.True(t, serrors.Is(err, serrors.ErrCodeLineageNotFound))
}
