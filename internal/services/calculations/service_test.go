package calculations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/audit"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/services/lineage"
	"github.com/logicthinker/orm-capital-engine/internal/services/losses"
	"github.com/logicthinker/orm-capital-engine/internal/services/overrides"
	"github.com/logicthinker/orm-capital-engine/internal/services/parameters"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *storage.Memory, *lineage.Service) {
	t.Helper()
	store := storage.NewMemory()
	log := logger.NewDefault("test")

	paramSvc := parameters.NewService(store, log)
	require.NoError(t, paramSvc.Seed(context.Background()))

	lossSvc := losses.NewService(store, fixedpoint.MustParse("10000000"), log)
	overrideSvc := overrides.NewService(store, log)
	lineageSvc := lineage.NewService(store, store, log)

	return NewService(store, paramSvc, lossSvc, overrideSvc, lineageSvc, log), store, lineageSvc
}

func seedSMAData(t *testing.T, store *storage.Memory) {
	t.Helper()
	ctx := context.Background()

	for year := 2021; year <= 2023; year++ {
		_, err := store.CreateBusinessIndicator(ctx, indicator.BusinessIndicator{
			ID:              "bi-" + time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006"),
			EntityID:        "BANK001",
			Period:          time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006"),
			CalculationDate: time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
			ILDC:            fixedpoint.MustParse("61000000000"),
			SC:              fixedpoint.MustParse("23000000000"),
			FC:              fixedpoint.MustParse("16000000000"),
		})
		require.NoError(t, err)
	}

	for year := 2019; year <= 2023; year++ {
		for q := 0; q < 4; q++ {
			date := time.Date(year, time.Month(3*q+1), 15, 0, 0, 0, 0, time.UTC)
			_, err := store.CreateLossEvent(ctx, loss.Event{
				ID:             "le-" + date.Format("2006-01"),
				EntityID:       "BANK001",
				EventType:      loss.ExternalFraud,
				BusinessLine:   loss.RetailBanking,
				OccurrenceDate: date.AddDate(0, -1, 0),
				DiscoveryDate:  date.AddDate(0, 0, -10),
				AccountingDate: date,
				GrossAmount:    fixedpoint.MustParse("100000000"),
				NetAmount:      fixedpoint.MustParse("100000000"),
			})
			require.NoError(t, err)
		}
	}
}

func TestRunSMAEndToEnd(t *testing.T) {
	svc, store, lineageSvc := newTestService(t)
	seedSMAData(t, store)
	ctx := context.Background()

	req := job.Request{
		ModelName:       capital.SMA,
		EntityID:        "BANK001",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Initiator:       "tester",
	}

	res, err := svc.Run(ctx, req, "run-e2e")
	require.NoError(t, err)

	require.Equal(t, 2, res.Bucket)
	require.False(t, res.ILMGated)
	require.True(t, res.BIC.Equal(fixedpoint.MustParse("12600000000")))
	require.True(t, res.LC.Equal(fixedpoint.MustParse("6000000000")))
	require.NotEmpty(t, res.ParameterVersion)

	// The result is persisted and the chain is complete and verifiable.
	persisted, err := store.GetCalculation(ctx, "run-e2e")
	require.NoError(t, err)
	require.True(t, persisted.ORC.Equal(res.ORC))

	chain, err := lineageSvc.Chain(ctx, "run-e2e")
	require.NoError(t, err)
	require.Len(t, chain, 4)
	require.Equal(t, audit.OpCalculationCompleted, chain[3].Operation)

	integrity, err := lineageSvc.VerifyIntegrity(ctx, "run-e2e")
	require.NoError(t, err)
	require.True(t, integrity.Overall)

	record, err := lineageSvc.Lineage(ctx, "run-e2e")
	require.NoError(t, err)
	require.True(t, record.Reproducible)
	require.Len(t, record.IncludedLossIDs, 20)
}

func TestRunDeterministicOutputHash(t *testing.T) {
	svc, store, lineageSvc := newTestService(t)
	seedSMAData(t, store)
	ctx := context.Background()

	req := job.Request{
		ModelName:       capital.SMA,
		EntityID:        "BANK001",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	first, err := svc.Run(ctx, req, "run-a")
	require.NoError(t, err)
	second, err := svc.Run(ctx, req, "run-b")
	require.NoError(t, err)

	require.True(t, first.ORC.Equal(second.ORC))
	require.True(t, first.RWA.Equal(second.RWA))

	// Same inputs, same parameters: identical input hashes on the chains.
	chainA, err := lineageSvc.Chain(ctx, "run-a")
	require.NoError(t, err)
	chainB, err := lineageSvc.Chain(ctx, "run-b")
	require.NoError(t, err)
	require.Equal(t, chainA[0].InputHash, chainB[0].InputHash)
	require.Equal(t, chainA[0].EnvironmentHash, chainB[0].EnvironmentHash)
}

func TestRunBIAInline(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := job.Request{
		ModelName:       capital.BIA,
		EntityID:        "BANK001",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		GrossIncome: []indicator.GrossIncomeYear{
			{Year: 2023, GrossIncome: fixedpoint.MustParse("2000000000"), ExcludedItems: fixedpoint.MustParse("50000000")},
			{Year: 2022, GrossIncome: fixedpoint.MustParse("1000000000"), ExcludedItems: fixedpoint.MustParse("1200000000")},
			{Year: 2021, GrossIncome: fixedpoint.MustParse("1800000000"), ExcludedItems: fixedpoint.MustParse("40000000")},
		},
	}

	res, err := svc.Run(ctx, req, "run-bia")
	require.NoError(t, err)
	// avg = (1.95e9 + 1.76e9)/2; ORC = 0.15 × avg
	require.True(t, res.ORC.Equal(fixedpoint.MustParse("278250000")), "ORC = %s", res.ORC)
}

func TestRunFailureAppendsTerminalChainEntry(t *testing.T) {
	svc, _, lineageSvc := newTestService(t)
	ctx := context.Background()

	// SMA with no business indicators fails after the chain starts.
	req := job.Request{
		ModelName:       capital.SMA,
		EntityID:        "GHOST",
		CalculationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	_, err := svc.Run(ctx, req, "run-fail")
	require.Error(t, err)
	require.True(t, serrors.Is(err, serrors.ErrCodeValidation) || serrors.Is(err, serrors.ErrCodeInsufficientData))

	chain, err := lineageSvc.Chain(ctx, "run-fail")
	require.NoError(t, err)
	last := chain[len(chain)-1]
	require.Equal(t, audit.OpCalculationFailed, last.Operation)
}
