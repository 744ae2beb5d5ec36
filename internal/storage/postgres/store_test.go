package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestCreateBusinessIndicator(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO business_indicators`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	bi := indicator.BusinessIndicator{
		ID:              "bi-1",
		EntityID:        "BANK001",
		Period:          "2023",
		CalculationDate: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		ILDC:            decimal.NewFromInt(100),
		SC:              decimal.NewFromInt(50),
		FC:              decimal.NewFromInt(25),
	}
	created, err := store.CreateBusinessIndicator(context.Background(), bi)
	require.NoError(t, err)
	require.True(t, created.BITotal.Equal(decimal.NewFromInt(175)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBusinessIndicators(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "entity_id", "period", "calculation_date", "ildc", "sc", "fc", "bi_total", "created_at",
	}).AddRow("bi-1", "BANK001", "2023", time.Now(), "100", "50", "25", "175", time.Now())

	mock.ExpectQuery(`FROM business_indicators`).
		WithArgs("BANK001", sqlmock.AnyArg(), 3).
		WillReturnRows(rows)

	out, err := store.ListBusinessIndicators(context.Background(), "BANK001", time.Now(), 3)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].BITotal.Equal(decimal.NewFromInt(175)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT payload FROM jobs WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err := store.GetJob(context.Background(), "missing")
	require.True(t, serrors.Is(err, serrors.ErrCodeJobNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobByIdempotencyKeyMiss(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT payload FROM jobs WHERE idempotency_key`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, found, err := store.GetJobByIdempotencyKey(context.Background(), "k1")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)

	payload := `{"id":"job-1","run_id":"run-1","status":"completed","execution_mode":"sync","request":{"model_name":"bia","execution_mode":"sync","entity_id":"BANK001","calculation_date":"2024-03-31T00:00:00Z"},"progress_pct":100,"webhook_delivered":false,"webhook_attempts":0,"predicted_duration":0,"created_at":"2024-03-31T00:00:00Z"}`
	mock.ExpectQuery(`SELECT payload FROM jobs WHERE id`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(payload)))

	j, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, j.Status)
	require.Equal(t, "BANK001", j.Request.EntityID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTerminalJobsBefore(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM jobs`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.DeleteTerminalJobsBefore(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateVersionCommitsSwap(t *testing.T) {
	store, mock := newMockStore(t)

	target := `{"version_id":"v2","model_name":"sma","parameter_name":"alpha","parameter_type":"coefficient","value":{"number":"0.16"},"version_number":2,"status":"approved","effective_date":"2024-01-01T00:00:00Z","created_by":"maker1","immutable_diff":"x","rbi_approval_required":false,"created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}`
	previous := `{"version_id":"v1","model_name":"sma","parameter_name":"alpha","parameter_type":"coefficient","value":{"number":"0.15"},"version_number":1,"status":"active","effective_date":"2023-01-01T00:00:00Z","created_by":"seed","immutable_diff":"y","rbi_approval_required":false,"created_at":"2023-01-01T00:00:00Z","updated_at":"2023-01-01T00:00:00Z"}`

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT payload FROM parameter_versions WHERE version_id`).
		WithArgs("v2").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(target)))
	mock.ExpectQuery(`SELECT payload FROM parameter_versions`).
		WithArgs("sma", "alpha", "v2").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(previous)))
	mock.ExpectExec(`UPDATE parameter_versions SET status = 'superseded'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE parameter_versions SET status = 'active'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := store.ActivateVersion(context.Background(), "v2")
	require.NoError(t, err)
	require.Equal(t, "v2", v.VersionID)
	require.NoError(t, mock.ExpectationsWereMet())
}
