package losses

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

var threshold = fixedpoint.MustParse("10000000") // ₹1,00,000

func newTestService() (*Service, *storage.Memory) {
	store := storage.NewMemory()
	return NewService(store, threshold, logger.NewDefault("test")), store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validEvent() loss.Event {
	return loss.Event{
		EntityID:       "BANK001",
		EventType:      loss.ExternalFraud,
		BusinessLine:   loss.RetailBanking,
		OccurrenceDate: date(2023, 1, 10),
		DiscoveryDate:  date(2023, 2, 1),
		AccountingDate: date(2023, 3, 1),
		GrossAmount:    fixedpoint.MustParse("50000000"),
	}
}

func TestIngestValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(*loss.Event)
		wantCode serrors.ErrorCode
	}{
		{
			name:     "missing entity",
			mutate:   func(ev *loss.Event) { ev.EntityID = "" },
			wantCode: serrors.ErrCodeMissingRequiredField,
		},
		{
			name:     "bad event type",
			mutate:   func(ev *loss.Event) { ev.EventType = "weather" },
			wantCode: serrors.ErrCodeInvalidEnumValue,
		},
		{
			name: "dates out of order",
			mutate: func(ev *loss.Event) {
				ev.DiscoveryDate = date(2022, 12, 1)
			},
			wantCode: serrors.ErrCodeInvalidDateSequence,
		},
		{
			name:     "zero gross",
			mutate:   func(ev *loss.Event) { ev.GrossAmount = fixedpoint.MustParse("0") },
			wantCode: serrors.ErrCodeValidation,
		},
		{
			name: "below threshold",
			mutate: func(ev *loss.Event) {
				ev.GrossAmount = threshold.Sub(fixedpoint.MustParse("1"))
			},
			wantCode: serrors.ErrCodeBelowThreshold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			result, accepted, err := svc.Ingest(ctx, []loss.Event{ev})
			require.NoError(t, err)
			require.Empty(t, accepted)
			require.False(t, result.Success)
			require.Equal(t, 1, result.RecordsRejected)

			found := false
			for _, verr := range result.Errors {
				if verr.ErrorCode == tt.wantCode {
					found = true
				}
			}
			require.True(t, found, "expected code %s in %v", tt.wantCode, result.Errors)
		})
	}
}

func TestIngestAtThresholdBoundary(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ev := validEvent()
	ev.GrossAmount = threshold // exactly at the threshold: included

	result, accepted, err := svc.Ingest(ctx, []loss.Event{ev})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, accepted, 1)
	require.True(t, accepted[0].NetAmount.Equal(threshold))
}

func TestIngestPartialBatch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	good := validEvent()
	bad := validEvent()
	bad.GrossAmount = fixedpoint.MustParse("-5")

	result, accepted, err := svc.Ingest(ctx, []loss.Event{good, bad})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	require.Equal(t, 2, result.RecordsProcessed)
	require.Equal(t, 1, result.RecordsAccepted)
	require.Equal(t, 1, result.RecordsRejected)
}

func TestAttachRecoveryNetting(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	_, accepted, err := svc.Ingest(ctx, []loss.Event{validEvent()})
	require.NoError(t, err)
	eventID := accepted[0].ID

	// First recovery of 1e7.
	result, err := svc.AttachRecovery(ctx, eventID, loss.Recovery{
		Amount:       fixedpoint.MustParse("10000000"),
		ReceiptDate:  date(2023, 6, 1),
		RecoveryType: "insurance",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	ev, err := store.GetLossEvent(ctx, eventID)
	require.NoError(t, err)
	require.True(t, ev.NetAmount.Equal(fixedpoint.MustParse("40000000")))

	// net + Σ recoveries == gross
	recs, err := store.ListRecoveries(ctx, eventID)
	require.NoError(t, err)
	sum := fixedpoint.MustParse("0")
	for _, r := range recs {
		sum = sum.Add(r.Amount)
	}
	require.True(t, ev.NetAmount.Add(sum).Equal(ev.GrossAmount))
}

func TestAttachRecoveryRejections(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, accepted, err := svc.Ingest(ctx, []loss.Event{validEvent()})
	require.NoError(t, err)
	eventID := accepted[0].ID

	t.Run("receipt before occurrence", func(t *testing.T) {
		result, err := svc.AttachRecovery(ctx, eventID, loss.Recovery{
			Amount:      fixedpoint.MustParse("1000000"),
			ReceiptDate: date(2022, 12, 1),
		})
		require.NoError(t, err)
		require.False(t, result.Success)
		require.Equal(t, serrors.ErrCodeInvalidDateSequence, result.Errors[0].ErrorCode)
	})

	t.Run("exceeds gross", func(t *testing.T) {
		result, err := svc.AttachRecovery(ctx, eventID, loss.Recovery{
			Amount:      fixedpoint.MustParse("60000000"),
			ReceiptDate: date(2023, 6, 1),
		})
		require.NoError(t, err)
		require.False(t, result.Success)
		require.Equal(t, serrors.ErrCodeRecoveryExceedsGross, result.Errors[0].ErrorCode)
	})
}

func TestExcludeRequiresCompleteApproval(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, accepted, err := svc.Ingest(ctx, []loss.Event{validEvent()})
	require.NoError(t, err)
	eventID := accepted[0].ID

	_, err = svc.Exclude(ctx, eventID, "non-recurring event", nil)
	require.True(t, serrors.Is(err, serrors.ErrCodeMissingRBIApproval))

	_, err = svc.Exclude(ctx, eventID, "non-recurring event", &loss.RBIApproval{
		ApprovalReference: "RBI/2024/017",
	})
	require.True(t, serrors.Is(err, serrors.ErrCodeIncompleteRBIApproval))

	ev, err := svc.Exclude(ctx, eventID, "non-recurring event", &loss.RBIApproval{
		ApprovalReference:  "RBI/2024/017",
		ApprovalDate:       date(2024, 1, 15),
		ApprovingAuthority: "RBI DoS",
		ApprovalReason:     "one-off divested business loss",
	})
	require.NoError(t, err)
	require.True(t, ev.IsExcluded)
	require.True(t, ev.DisclosureRequired)
	require.NotNil(t, ev.DisclosureUntil)
}

func TestQueryForCalculation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inHorizon := validEvent()
	tooOld := validEvent()
	tooOld.OccurrenceDate = date(2010, 1, 1)
	tooOld.DiscoveryDate = date(2010, 2, 1)
	tooOld.AccountingDate = date(2010, 3, 1)

	_, accepted, err := svc.Ingest(ctx, []loss.Event{inHorizon, tooOld})
	require.NoError(t, err)
	require.Len(t, accepted, 2)

	excludedEv := validEvent()
	excludedEv.AccountingDate = date(2023, 5, 1)
	_, acc2, err := svc.Ingest(ctx, []loss.Event{excludedEv})
	require.NoError(t, err)
	_, err = svc.Exclude(ctx, acc2[0].ID, "approved exclusion", &loss.RBIApproval{
		ApprovalReference:  "RBI/2024/001",
		ApprovalDate:       date(2024, 1, 1),
		ApprovingAuthority: "RBI DoS",
		ApprovalReason:     "divestiture",
	})
	require.NoError(t, err)

	events, err := svc.QueryForCalculation(ctx, "BANK001", 10, date(2024, 3, 31))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, accepted[0].ID, events[0].ID)
}
