// Package postgres implements the storage interfaces on PostgreSQL. Scalar
// query columns carry the fields the engine filters and orders on; the full
// typed record rides alongside as a JSON document, the way the governed
// entities are shaped for audit export.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/internal/domain/audit"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/entity"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/override"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
)

// Store implements storage.Store on *sql.DB.
type Store struct {
	db *sql.DB
}

// NewStore applies the schema and returns a ready Store.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

func marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

// BusinessIndicatorStore ------------------------------------------------------

func (s *Store) CreateBusinessIndicator(ctx context.Context, bi indicator.BusinessIndicator) (indicator.BusinessIndicator, error) {
	if bi.CreatedAt.IsZero() {
		bi.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_indicators
			(id, entity_id, period, calculation_date, ildc, sc, fc, bi_total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, bi.ID, bi.EntityID, bi.Period, bi.CalculationDate, bi.ILDC, bi.SC, bi.FC, bi.Total(), bi.CreatedAt)
	if err != nil {
		return indicator.BusinessIndicator{}, err
	}
	bi.BITotal = bi.Total()
	return bi, nil
}

func (s *Store) GetBusinessIndicator(ctx context.Context, entityID, period string) (indicator.BusinessIndicator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_id, period, calculation_date, ildc, sc, fc, bi_total, created_at
		FROM business_indicators
		WHERE entity_id = $1 AND period = $2
	`, entityID, period)
	return scanIndicator(row)
}

func (s *Store) ListBusinessIndicators(ctx context.Context, entityID string, onOrBefore time.Time, limit int) ([]indicator.BusinessIndicator, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, period, calculation_date, ildc, sc, fc, bi_total, created_at
		FROM business_indicators
		WHERE entity_id = $1 AND calculation_date <= $2
		ORDER BY calculation_date DESC, period DESC
		LIMIT $3
	`, entityID, onOrBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []indicator.BusinessIndicator
	for rows.Next() {
		bi, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bi)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanIndicator(row rowScanner) (indicator.BusinessIndicator, error) {
	var bi indicator.BusinessIndicator
	err := row.Scan(&bi.ID, &bi.EntityID, &bi.Period, &bi.CalculationDate,
		&bi.ILDC, &bi.SC, &bi.FC, &bi.BITotal, &bi.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return indicator.BusinessIndicator{}, serrors.NotFound(serrors.ErrCodeEntityNotFound, "business indicator not found")
	}
	return bi, err
}

// LossEventStore --------------------------------------------------------------

func (s *Store) CreateLossEvent(ctx context.Context, ev loss.Event) (loss.Event, error) {
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loss_events
			(id, entity_id, event_type, business_line, occurrence_date, discovery_date,
			 accounting_date, gross_amount, net_amount, is_excluded, exclusion_reason,
			 rbi_approval_reference, disclosure_required, disclosure_until, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, ev.ID, ev.EntityID, ev.EventType, ev.BusinessLine, ev.OccurrenceDate, ev.DiscoveryDate,
		ev.AccountingDate, ev.GrossAmount, ev.NetAmount, ev.IsExcluded, nullString(ev.ExclusionReason),
		nullString(ev.RBIApprovalReference), ev.DisclosureRequired, ev.DisclosureUntil, ev.CreatedAt, ev.UpdatedAt)
	return ev, err
}

func (s *Store) UpdateLossEvent(ctx context.Context, ev loss.Event) (loss.Event, error) {
	ev.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE loss_events SET
			net_amount = $2, is_excluded = $3, exclusion_reason = $4,
			rbi_approval_reference = $5, disclosure_required = $6,
			disclosure_until = $7, updated_at = $8
		WHERE id = $1
	`, ev.ID, ev.NetAmount, ev.IsExcluded, nullString(ev.ExclusionReason),
		nullString(ev.RBIApprovalReference), ev.DisclosureRequired, ev.DisclosureUntil, ev.UpdatedAt)
	if err != nil {
		return loss.Event{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loss.Event{}, serrors.NotFound(serrors.ErrCodeValidation, "loss event not found")
	}
	return ev, nil
}

func (s *Store) GetLossEvent(ctx context.Context, id string) (loss.Event, error) {
	row := s.db.QueryRowContext(ctx, lossSelect+` WHERE id = $1`, id)
	return scanLossEvent(row)
}

func (s *Store) ListLossEvents(ctx context.Context, entityID string, from, to time.Time) ([]loss.Event, error) {
	rows, err := s.db.QueryContext(ctx, lossSelect+`
		WHERE entity_id = $1 AND accounting_date >= $2 AND accounting_date <= $3
		ORDER BY accounting_date, id
	`, entityID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loss.Event
	for rows.Next() {
		ev, err := scanLossEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const lossSelect = `
	SELECT id, entity_id, event_type, business_line, occurrence_date, discovery_date,
	       accounting_date, gross_amount, net_amount, is_excluded, exclusion_reason,
	       rbi_approval_reference, disclosure_required, disclosure_until, created_at, updated_at
	FROM loss_events`

func scanLossEvent(row rowScanner) (loss.Event, error) {
	var (
		ev                  loss.Event
		exclusionReason     sql.NullString
		rbiReference        sql.NullString
		disclosureUntil     sql.NullTime
	)
	err := row.Scan(&ev.ID, &ev.EntityID, &ev.EventType, &ev.BusinessLine, &ev.OccurrenceDate,
		&ev.DiscoveryDate, &ev.AccountingDate, &ev.GrossAmount, &ev.NetAmount, &ev.IsExcluded,
		&exclusionReason, &rbiReference, &ev.DisclosureRequired, &disclosureUntil,
		&ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return loss.Event{}, serrors.NotFound(serrors.ErrCodeValidation, "loss event not found")
	}
	if err != nil {
		return loss.Event{}, err
	}
	ev.ExclusionReason = exclusionReason.String
	ev.RBIApprovalReference = rbiReference.String
	if disclosureUntil.Valid {
		t := disclosureUntil.Time
		ev.DisclosureUntil = &t
	}
	return ev, nil
}

func (s *Store) CreateRecovery(ctx context.Context, rec loss.Recovery) (loss.Recovery, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recoveries (id, loss_event_id, amount, receipt_date, recovery_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.LossEventID, rec.Amount, rec.ReceiptDate, nullString(rec.RecoveryType), rec.CreatedAt)
	return rec, err
}

func (s *Store) ListRecoveries(ctx context.Context, lossEventID string) ([]loss.Recovery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loss_event_id, amount, receipt_date, recovery_type, created_at
		FROM recoveries WHERE loss_event_id = $1 ORDER BY receipt_date, id
	`, lossEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loss.Recovery
	for rows.Next() {
		var (
			rec          loss.Recovery
			recoveryType sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.LossEventID, &rec.Amount, &rec.ReceiptDate,
			&recoveryType, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.RecoveryType = recoveryType.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CalculationStore ------------------------------------------------------------

func (s *Store) CreateCalculation(ctx context.Context, res capital.Result) (capital.Result, error) {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capital_calculations
			(run_id, entity_id, calculation_date, methodology, bi, bic, lc, ilm, orc, rwa,
			 bucket, ilm_gated, ilm_gate_reason, parameter_version, model_version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, res.RunID, res.EntityID, res.CalculationDate, res.Methodology, res.BI, res.BIC, res.LC,
		res.ILM, res.ORC, res.RWA, res.Bucket, res.ILMGated, nullString(res.ILMGateReason),
		res.ParameterVersion, res.ModelVersion, res.CreatedAt)
	return res, err
}

func (s *Store) GetCalculation(ctx context.Context, runID string) (capital.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, entity_id, calculation_date, methodology, bi, bic, lc, ilm, orc, rwa,
		       bucket, ilm_gated, ilm_gate_reason, parameter_version, model_version, created_at
		FROM capital_calculations WHERE run_id = $1
	`, runID)

	var (
		res    capital.Result
		reason sql.NullString
	)
	err := row.Scan(&res.RunID, &res.EntityID, &res.CalculationDate, &res.Methodology,
		&res.BI, &res.BIC, &res.LC, &res.ILM, &res.ORC, &res.RWA, &res.Bucket,
		&res.ILMGated, &reason, &res.ParameterVersion, &res.ModelVersion, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return capital.Result{}, serrors.NotFound(serrors.ErrCodeCalculationNotFound, "calculation not found")
	}
	if err != nil {
		return capital.Result{}, err
	}
	res.ILMGateReason = reason.String
	return res, nil
}

// JobStore --------------------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	payload, err := marshal(j)
	if err != nil {
		return job.Job{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, run_id, status, execution_mode, payload, idempotency_key, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, j.ID, j.RunID, j.Status, j.ExecutionMode, payload, nullString(j.IdempotencyKey), j.CreatedAt, j.CompletedAt)
	return j, err
}

func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	payload, err := marshal(j)
	if err != nil {
		return job.Job{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $2, payload = $3, completed_at = $4 WHERE id = $1
	`, j.ID, j.Status, payload, j.CompletedAt)
	if err != nil {
		return job.Job{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return job.Job{}, serrors.NotFound(serrors.ErrCodeJobNotFound, "job not found")
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	return s.jobByQuery(ctx, `SELECT payload FROM jobs WHERE id = $1`, id)
}

func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (job.Job, bool, error) {
	j, err := s.jobByQuery(ctx, `SELECT payload FROM jobs WHERE idempotency_key = $1`, key)
	if serrors.Is(err, serrors.ErrCodeJobNotFound) {
		return job.Job{}, false, nil
	}
	if err != nil {
		return job.Job{}, false, err
	}
	return j, true, nil
}

func (s *Store) jobByQuery(ctx context.Context, query string, arg interface{}) (job.Job, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, serrors.NotFound(serrors.ErrCodeJobNotFound, "job not found")
	}
	if err != nil {
		return job.Job{}, err
	}
	var j job.Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return job.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, status job.Status) ([]job.Job, error) {
	query := `SELECT payload FROM jobs ORDER BY created_at`
	args := []interface{}{}
	if status != "" {
		query = `SELECT payload FROM jobs WHERE status = $1 ORDER BY created_at`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var j job.Job
		if err := json.Unmarshal(payload, &j); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AuditStore ------------------------------------------------------------------

func (s *Store) AppendAuditRecord(ctx context.Context, rec audit.Record) (audit.Record, error) {
	payload, err := marshal(rec)
	if err != nil {
		return audit.Record{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_trail (id, run_id, sequence, payload, immutable_hash)
		VALUES ($1,$2,$3,$4,$5)
	`, rec.ID, rec.RunID, rec.Sequence, payload, rec.ImmutableHash)
	return rec, err
}

func (s *Store) ListAuditRecords(ctx context.Context, runID string) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM audit_trail WHERE run_id = $1 ORDER BY sequence
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec audit.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ParameterStore --------------------------------------------------------------

func (s *Store) CreateParameterVersion(ctx context.Context, v param.Version) (param.Version, error) {
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	payload, err := marshal(v)
	if err != nil {
		return param.Version{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parameter_versions
			(version_id, model_name, parameter_name, status, version_number, payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, v.VersionID, v.ModelName, v.ParameterName, v.Status, v.VersionNumber, payload, v.CreatedAt, v.UpdatedAt)
	return v, err
}

func (s *Store) UpdateParameterVersion(ctx context.Context, v param.Version) (param.Version, error) {
	v.UpdatedAt = time.Now().UTC()
	payload, err := marshal(v)
	if err != nil {
		return param.Version{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE parameter_versions SET status = $2, payload = $3, updated_at = $4 WHERE version_id = $1
	`, v.VersionID, v.Status, payload, v.UpdatedAt)
	if err != nil {
		return param.Version{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return param.Version{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "parameter version not found")
	}
	return v, nil
}

func (s *Store) GetParameterVersion(ctx context.Context, versionID string) (param.Version, error) {
	return s.paramByQuery(ctx, `SELECT payload FROM parameter_versions WHERE version_id = $1`, versionID)
}

func (s *Store) paramByQuery(ctx context.Context, query string, args ...interface{}) (param.Version, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return param.Version{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "parameter version not found")
	}
	if err != nil {
		return param.Version{}, err
	}
	var v param.Version
	if err := json.Unmarshal(payload, &v); err != nil {
		return param.Version{}, fmt.Errorf("unmarshal parameter version: %w", err)
	}
	return v, nil
}

func (s *Store) listParams(ctx context.Context, query string, args ...interface{}) ([]param.Version, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []param.Version
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v param.Version
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("unmarshal parameter version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ListParameterVersions(ctx context.Context, model capital.Methodology, name string) ([]param.Version, error) {
	return s.listParams(ctx, `
		SELECT payload FROM parameter_versions
		WHERE model_name = $1 AND parameter_name = $2
		ORDER BY version_number
	`, model, name)
}

func (s *Store) GetActiveVersion(ctx context.Context, model capital.Methodology, name string) (param.Version, error) {
	return s.paramByQuery(ctx, `
		SELECT payload FROM parameter_versions
		WHERE model_name = $1 AND parameter_name = $2 AND status = 'active'
	`, model, name)
}

func (s *Store) ListActiveVersions(ctx context.Context, model capital.Methodology) ([]param.Version, error) {
	return s.listParams(ctx, `
		SELECT payload FROM parameter_versions
		WHERE model_name = $1 AND status = 'active'
		ORDER BY parameter_name
	`, model)
}

// ActivateVersion performs the transactional swap: the previous active
// version of the same (model, parameter) becomes superseded and the target
// becomes active in one transaction.
func (s *Store) ActivateVersion(ctx context.Context, versionID string) (param.Version, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return param.Version{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM parameter_versions WHERE version_id = $1 FOR UPDATE
	`, versionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return param.Version{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "parameter version not found")
	}
	if err != nil {
		return param.Version{}, err
	}
	var v param.Version
	if err := json.Unmarshal(payload, &v); err != nil {
		return param.Version{}, fmt.Errorf("unmarshal parameter version: %w", err)
	}

	now := time.Now().UTC()
	prevRows, err := tx.QueryContext(ctx, `
		SELECT payload FROM parameter_versions
		WHERE model_name = $1 AND parameter_name = $2 AND status = 'active' AND version_id <> $3
		FOR UPDATE
	`, v.ModelName, v.ParameterName, versionID)
	if err != nil {
		return param.Version{}, err
	}
	var prev []param.Version
	for prevRows.Next() {
		var raw []byte
		if err := prevRows.Scan(&raw); err != nil {
			prevRows.Close()
			return param.Version{}, err
		}
		var p param.Version
		if err := json.Unmarshal(raw, &p); err != nil {
			prevRows.Close()
			return param.Version{}, fmt.Errorf("unmarshal parameter version: %w", err)
		}
		prev = append(prev, p)
	}
	prevRows.Close()
	if err := prevRows.Err(); err != nil {
		return param.Version{}, err
	}
	for _, p := range prev {
		p.Status = param.StatusSuperseded
		p.UpdatedAt = now
		superseded, err := marshal(p)
		if err != nil {
			return param.Version{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE parameter_versions SET status = 'superseded', payload = $2, updated_at = $3
			WHERE version_id = $1
		`, p.VersionID, superseded, now); err != nil {
			return param.Version{}, err
		}
	}

	v.Status = param.StatusActive
	v.UpdatedAt = now
	activated, err := marshal(v)
	if err != nil {
		return param.Version{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE parameter_versions SET status = 'active', payload = $2, updated_at = $3
		WHERE version_id = $1
	`, versionID, activated, now); err != nil {
		return param.Version{}, err
	}

	if err := tx.Commit(); err != nil {
		return param.Version{}, err
	}
	return v, nil
}

func (s *Store) AppendWorkflowStep(ctx context.Context, step param.WorkflowStep) (param.WorkflowStep, error) {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	payload, err := marshal(step)
	if err != nil {
		return param.WorkflowStep{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parameter_workflow (id, version_id, payload, created_at)
		VALUES ($1,$2,$3,$4)
	`, step.ID, step.VersionID, payload, step.CreatedAt)
	return step, err
}

func (s *Store) ListWorkflowSteps(ctx context.Context, versionID string) ([]param.WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM parameter_workflow WHERE version_id = $1 ORDER BY created_at, id
	`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []param.WorkflowStep
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var step param.WorkflowStep
		if err := json.Unmarshal(payload, &step); err != nil {
			return nil, fmt.Errorf("unmarshal workflow step: %w", err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func (s *Store) GetConfiguration(ctx context.Context, model capital.Methodology) (param.Configuration, error) {
	var cfg param.Configuration
	var nextVersion sql.NullString
	var nextEffective sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT model_name, active_version_id, next_version_id, next_effective, updated_at
		FROM parameter_configuration WHERE model_name = $1
	`, model).Scan(&cfg.ModelName, &cfg.ActiveVersionID, &nextVersion, &nextEffective, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return param.Configuration{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "no configuration for model")
	}
	if err != nil {
		return param.Configuration{}, err
	}
	cfg.NextVersionID = nextVersion.String
	if nextEffective.Valid {
		t := nextEffective.Time
		cfg.NextEffective = &t
	}
	return cfg, nil
}

func (s *Store) SaveConfiguration(ctx context.Context, cfg param.Configuration) (param.Configuration, error) {
	cfg.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parameter_configuration (model_name, active_version_id, next_version_id, next_effective, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (model_name) DO UPDATE SET
			active_version_id = EXCLUDED.active_version_id,
			next_version_id = EXCLUDED.next_version_id,
			next_effective = EXCLUDED.next_effective,
			updated_at = EXCLUDED.updated_at
	`, cfg.ModelName, cfg.ActiveVersionID, nullString(cfg.NextVersionID), cfg.NextEffective, cfg.UpdatedAt)
	return cfg, err
}

// EntityStore -----------------------------------------------------------------

func (s *Store) CreateEntity(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, entity_type, parent_entity_id, consolidation_level, regulatory_code, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			entity_type = EXCLUDED.entity_type,
			parent_entity_id = EXCLUDED.parent_entity_id,
			consolidation_level = EXCLUDED.consolidation_level,
			regulatory_code = EXCLUDED.regulatory_code,
			active = EXCLUDED.active
	`, e.ID, e.Name, nullString(e.EntityType), nullString(e.ParentEntityID),
		e.ConsolidationLevel, nullString(e.RegulatoryCode), e.Active, e.CreatedAt)
	return e, err
}

func (s *Store) GetEntity(ctx context.Context, id string) (entity.Entity, error) {
	row := s.db.QueryRowContext(ctx, entitySelect+` WHERE id = $1`, id)
	return scanEntity(row)
}

func (s *Store) ListChildEntities(ctx context.Context, parentID string) ([]entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, entitySelect+` WHERE parent_entity_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const entitySelect = `
	SELECT id, name, entity_type, parent_entity_id, consolidation_level, regulatory_code, active, created_at
	FROM entities`

func scanEntity(row rowScanner) (entity.Entity, error) {
	var (
		e          entity.Entity
		entityType sql.NullString
		parentID   sql.NullString
		regCode    sql.NullString
	)
	err := row.Scan(&e.ID, &e.Name, &entityType, &parentID, &e.ConsolidationLevel,
		&regCode, &e.Active, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Entity{}, serrors.NotFound(serrors.ErrCodeEntityNotFound, "entity not found")
	}
	if err != nil {
		return entity.Entity{}, err
	}
	e.EntityType = entityType.String
	e.ParentEntityID = parentID.String
	e.RegulatoryCode = regCode.String
	return e, nil
}

func (s *Store) CreateConsolidationMapping(ctx context.Context, m entity.ConsolidationMapping) (entity.ConsolidationMapping, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidation_mappings
			(id, parent_entity_id, child_entity_id, method, ownership_percentage, voting_percentage, effective_from, effective_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.ParentEntityID, m.ChildEntityID, m.Method, m.OwnershipPercentage,
		m.VotingPercentage, m.EffectiveFrom, m.EffectiveTo)
	return m, err
}

func (s *Store) GetEffectiveMapping(ctx context.Context, parentID, childID string, date time.Time) (entity.ConsolidationMapping, bool, error) {
	mappings, err := s.ListConsolidationMappings(ctx, parentID, childID)
	if err != nil {
		return entity.ConsolidationMapping{}, false, err
	}
	for _, m := range mappings {
		if m.EffectiveAt(date) {
			return m, true, nil
		}
	}
	return entity.ConsolidationMapping{}, false, nil
}

func (s *Store) ListConsolidationMappings(ctx context.Context, parentID, childID string) ([]entity.ConsolidationMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_entity_id, child_entity_id, method, ownership_percentage,
		       voting_percentage, effective_from, effective_to
		FROM consolidation_mappings
		WHERE parent_entity_id = $1 AND child_entity_id = $2
		ORDER BY effective_from
	`, parentID, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.ConsolidationMapping
	for rows.Next() {
		var (
			m  entity.ConsolidationMapping
			to sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.ParentEntityID, &m.ChildEntityID, &m.Method,
			&m.OwnershipPercentage, &m.VotingPercentage, &m.EffectiveFrom, &to); err != nil {
			return nil, err
		}
		if to.Valid {
			t := to.Time
			m.EffectiveTo = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateCorporateAction(ctx context.Context, a entity.CorporateAction) (entity.CorporateAction, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	payload, err := marshal(a)
	if err != nil {
		return entity.CorporateAction{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO corporate_actions (id, target_entity_id, acquirer_entity_id, effective_date, payload)
		VALUES ($1,$2,$3,$4,$5)
	`, a.ID, a.TargetEntityID, nullString(a.AcquirerEntityID), a.EffectiveDate, payload)
	return a, err
}

func (s *Store) ListCorporateActions(ctx context.Context, entityIDs []string, upTo time.Time) ([]entity.CorporateAction, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM corporate_actions
		WHERE effective_date <= $1
		  AND (target_entity_id = ANY($2) OR acquirer_entity_id = ANY($2))
		ORDER BY effective_date
	`, upTo, pq.Array(entityIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.CorporateAction
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a entity.CorporateAction
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("unmarshal corporate action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// OverrideStore ---------------------------------------------------------------

func (s *Store) CreateOverride(ctx context.Context, o override.Override) (override.Override, error) {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	payload, err := marshal(o)
	if err != nil {
		return override.Override{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO supervisor_overrides (id, entity_id, status, effective_from, effective_to, payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, o.ID, o.EntityID, o.Status, o.EffectiveFrom, o.EffectiveTo, payload, o.CreatedAt, o.UpdatedAt)
	return o, err
}

func (s *Store) UpdateOverride(ctx context.Context, o override.Override) (override.Override, error) {
	o.UpdatedAt = time.Now().UTC()
	payload, err := marshal(o)
	if err != nil {
		return override.Override{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE supervisor_overrides SET status = $2, effective_to = $3, payload = $4, updated_at = $5
		WHERE id = $1
	`, o.ID, o.Status, o.EffectiveTo, payload, o.UpdatedAt)
	if err != nil {
		return override.Override{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return override.Override{}, serrors.NotFound(serrors.ErrCodeOverrideNotFound, "override not found")
	}
	return o, nil
}

func (s *Store) GetOverride(ctx context.Context, id string) (override.Override, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM supervisor_overrides WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return override.Override{}, serrors.NotFound(serrors.ErrCodeOverrideNotFound, "override not found")
	}
	if err != nil {
		return override.Override{}, err
	}
	var o override.Override
	if err := json.Unmarshal(payload, &o); err != nil {
		return override.Override{}, fmt.Errorf("unmarshal override: %w", err)
	}
	return o, nil
}

func (s *Store) listOverrides(ctx context.Context, query string, args ...interface{}) ([]override.Override, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []override.Override
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o override.Override
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("unmarshal override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ListOverrides(ctx context.Context, entityID string) ([]override.Override, error) {
	if entityID == "" {
		return s.listOverrides(ctx, `SELECT payload FROM supervisor_overrides ORDER BY created_at`)
	}
	return s.listOverrides(ctx, `
		SELECT payload FROM supervisor_overrides WHERE entity_id = $1 ORDER BY created_at
	`, entityID)
}

func (s *Store) ListAppliedOverrides(ctx context.Context, entityID string, date time.Time) ([]override.Override, error) {
	return s.listOverrides(ctx, `
		SELECT payload FROM supervisor_overrides
		WHERE entity_id = $1 AND status = 'applied'
		  AND effective_from <= $2
		  AND (effective_to IS NULL OR effective_to >= $2)
		ORDER BY created_at
	`, entityID, date)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
