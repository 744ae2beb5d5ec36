package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/audit"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
)

func TestBusinessIndicatorUniquePerPeriod(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	bi := indicator.BusinessIndicator{
		ID:              "bi-1",
		EntityID:        "BANK001",
		Period:          "2023",
		CalculationDate: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		ILDC:            decimal.NewFromInt(100),
	}
	if _, err := m.CreateBusinessIndicator(ctx, bi); err != nil {
		t.Fatalf("create: %v", err)
	}

	bi.ID = "bi-2"
	_, err := m.CreateBusinessIndicator(ctx, bi)
	if !serrors.Is(err, serrors.ErrCodeDuplicatePeriod) {
		t.Errorf("expected DUPLICATE_PERIOD, got %v", err)
	}
}

func TestListBusinessIndicatorsOrderAndLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for year := 2019; year <= 2023; year++ {
		_, err := m.CreateBusinessIndicator(ctx, indicator.BusinessIndicator{
			ID:              "bi-" + time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006"),
			EntityID:        "BANK001",
			Period:          time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006"),
			CalculationDate: time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rows, err := m.ListBusinessIndicators(ctx, "BANK001",
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Period != "2023" || rows[2].Period != "2021" {
		t.Errorf("order wrong: %s .. %s", rows[0].Period, rows[2].Period)
	}
}

func TestJobIdempotencyIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.CreateJob(ctx, job.Job{ID: "job-1", IdempotencyKey: "k1", Status: job.StatusQueued})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	found, ok, err := m.GetJobByIdempotencyKey(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if found.ID != created.ID {
		t.Errorf("found %s, want %s", found.ID, created.ID)
	}

	if _, ok, _ := m.GetJobByIdempotencyKey(ctx, "missing"); ok {
		t.Error("unexpected hit for missing key")
	}
}

func TestDeleteTerminalJobsBefore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	jobs := []job.Job{
		{ID: "old-done", Status: job.StatusCompleted, CompletedAt: &old, IdempotencyKey: "a"},
		{ID: "new-done", Status: job.StatusCompleted, CompletedAt: &recent},
		{ID: "still-running", Status: job.StatusRunning},
	}
	for _, j := range jobs {
		if _, err := m.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	removed, err := m.DeleteTerminalJobsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, _, err := m.GetJobByIdempotencyKey(ctx, "a"); err != nil {
		t.Errorf("idempotency index lookup errored: %v", err)
	}
	if _, ok, _ := m.GetJobByIdempotencyKey(ctx, "a"); ok {
		t.Error("idempotency key should be released with the purged job")
	}
}

func TestActivateVersionSwapsAtomically(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	v1 := param.Version{
		VersionID:     "v1",
		ModelName:     capital.SMA,
		ParameterName: "alpha",
		VersionNumber: 1,
		Status:        param.StatusActive,
	}
	v2 := param.Version{
		VersionID:     "v2",
		ModelName:     capital.SMA,
		ParameterName: "alpha",
		VersionNumber: 2,
		Status:        param.StatusApproved,
	}
	for _, v := range []param.Version{v1, v2} {
		if _, err := m.CreateParameterVersion(ctx, v); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if _, err := m.ActivateVersion(ctx, "v2"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	versions, err := m.ListParameterVersions(ctx, capital.SMA, "alpha")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	active := 0
	for _, v := range versions {
		switch v.VersionID {
		case "v1":
			if v.Status != param.StatusSuperseded {
				t.Errorf("v1 status = %s, want superseded", v.Status)
			}
		case "v2":
			if v.Status != param.StatusActive {
				t.Errorf("v2 status = %s, want active", v.Status)
			}
		}
		if v.Status == param.StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active versions = %d, want exactly 1", active)
	}
}

func TestAuditRecordsKeepInsertionOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.AppendAuditRecord(ctx, audit.Record{
			ID:       "ar-" + string(rune('a'+i)),
			RunID:    "run-1",
			Sequence: i,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rows, err := m.ListAuditRecords(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, rec := range rows {
		if rec.Sequence != i {
			t.Errorf("row %d has sequence %d", i, rec.Sequence)
		}
	}
}
