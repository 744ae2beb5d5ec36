// Package storage defines the persistence interfaces the engine depends on
// and an in-memory implementation used by tests and single-node deployments.
package storage

import (
	"context"
	"time"

	"github.com/logicthinker/orm-capital-engine/internal/domain/audit"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/entity"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/domain/loss"
	"github.com/logicthinker/orm-capital-engine/internal/domain/override"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
)

// BusinessIndicatorStore persists BI records.
type BusinessIndicatorStore interface {
	CreateBusinessIndicator(ctx context.Context, bi indicator.BusinessIndicator) (indicator.BusinessIndicator, error)
	GetBusinessIndicator(ctx context.Context, entityID, period string) (indicator.BusinessIndicator, error)
	// ListBusinessIndicators returns records for the entity with
	// calculation_date ≤ onOrBefore, most recent period first.
	ListBusinessIndicators(ctx context.Context, entityID string, onOrBefore time.Time, limit int) ([]indicator.BusinessIndicator, error)
}

// LossEventStore persists loss events and recoveries.
type LossEventStore interface {
	CreateLossEvent(ctx context.Context, ev loss.Event) (loss.Event, error)
	UpdateLossEvent(ctx context.Context, ev loss.Event) (loss.Event, error)
	GetLossEvent(ctx context.Context, id string) (loss.Event, error)
	// ListLossEvents returns events for the entity with accounting_date in
	// [from, to], ordered by accounting date.
	ListLossEvents(ctx context.Context, entityID string, from, to time.Time) ([]loss.Event, error)

	CreateRecovery(ctx context.Context, rec loss.Recovery) (loss.Recovery, error)
	ListRecoveries(ctx context.Context, lossEventID string) ([]loss.Recovery, error)
}

// CalculationStore persists immutable calculation results.
type CalculationStore interface {
	CreateCalculation(ctx context.Context, res capital.Result) (capital.Result, error)
	GetCalculation(ctx context.Context, runID string) (capital.Result, error)
}

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	UpdateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (job.Job, bool, error)
	ListJobs(ctx context.Context, status job.Status) ([]job.Job, error)
	// DeleteTerminalJobsBefore purges completed and failed jobs whose
	// completion predates cutoff, returning the number removed.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditStore persists the append-only, per-run-ordered audit chain.
type AuditStore interface {
	AppendAuditRecord(ctx context.Context, rec audit.Record) (audit.Record, error)
	// ListAuditRecords returns the run's rows in chain order.
	ListAuditRecords(ctx context.Context, runID string) ([]audit.Record, error)
}

// ParameterStore persists versioned parameters, workflow steps, and the
// active pointer per model.
type ParameterStore interface {
	CreateParameterVersion(ctx context.Context, v param.Version) (param.Version, error)
	UpdateParameterVersion(ctx context.Context, v param.Version) (param.Version, error)
	GetParameterVersion(ctx context.Context, versionID string) (param.Version, error)
	// ListParameterVersions returns the full history for one parameter in
	// version-number order.
	ListParameterVersions(ctx context.Context, model capital.Methodology, name string) ([]param.Version, error)
	GetActiveVersion(ctx context.Context, model capital.Methodology, name string) (param.Version, error)
	ListActiveVersions(ctx context.Context, model capital.Methodology) ([]param.Version, error)
	// ActivateVersion atomically marks versionID active and the previous
	// active version of the same (model, parameter) superseded. There is no
	// window in which both are active.
	ActivateVersion(ctx context.Context, versionID string) (param.Version, error)

	AppendWorkflowStep(ctx context.Context, step param.WorkflowStep) (param.WorkflowStep, error)
	ListWorkflowSteps(ctx context.Context, versionID string) ([]param.WorkflowStep, error)

	GetConfiguration(ctx context.Context, model capital.Methodology) (param.Configuration, error)
	SaveConfiguration(ctx context.Context, cfg param.Configuration) (param.Configuration, error)
}

// EntityStore persists the entity hierarchy, consolidation mappings, and
// corporate actions.
type EntityStore interface {
	CreateEntity(ctx context.Context, e entity.Entity) (entity.Entity, error)
	GetEntity(ctx context.Context, id string) (entity.Entity, error)
	ListChildEntities(ctx context.Context, parentID string) ([]entity.Entity, error)

	CreateConsolidationMapping(ctx context.Context, m entity.ConsolidationMapping) (entity.ConsolidationMapping, error)
	// GetEffectiveMapping returns the single mapping covering date for the
	// pair, if any.
	GetEffectiveMapping(ctx context.Context, parentID, childID string, date time.Time) (entity.ConsolidationMapping, bool, error)
	// ListConsolidationMappings returns every mapping recorded for the pair.
	ListConsolidationMappings(ctx context.Context, parentID, childID string) ([]entity.ConsolidationMapping, error)

	CreateCorporateAction(ctx context.Context, a entity.CorporateAction) (entity.CorporateAction, error)
	// ListCorporateActions returns actions touching any of the entities with
	// effective_date ≤ upTo.
	ListCorporateActions(ctx context.Context, entityIDs []string, upTo time.Time) ([]entity.CorporateAction, error)
}

// OverrideStore persists supervisor overrides.
type OverrideStore interface {
	CreateOverride(ctx context.Context, o override.Override) (override.Override, error)
	UpdateOverride(ctx context.Context, o override.Override) (override.Override, error)
	GetOverride(ctx context.Context, id string) (override.Override, error)
	ListOverrides(ctx context.Context, entityID string) ([]override.Override, error)
	// ListAppliedOverrides returns applied overrides effective for the entity
	// at date.
	ListAppliedOverrides(ctx context.Context, entityID string, date time.Time) ([]override.Override, error)
}

// Store aggregates every persistence interface the engine requires.
type Store interface {
	BusinessIndicatorStore
	LossEventStore
	CalculationStore
	JobStore
	AuditStore
	ParameterStore
	EntityStore
	OverrideStore

	Close() error
}
