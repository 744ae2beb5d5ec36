package storage

import (
	"context"
	"sort"
	"sync"
	"time"

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

// Memory is a thread-safe in-memory persistence layer implementing the Store
// interface. It backs tests and single-node deployments without postgres.
type Memory struct {
	mu sync.RWMutex

	indicators     map[string]indicator.BusinessIndicator // id → record
	indicatorByKey map[string]string                      // entity|period → id
	lossEvents     map[string]loss.Event
	recoveries     map[string][]loss.Recovery // loss event id → recoveries
	calculations   map[string]capital.Result  // run id → result
	jobs           map[string]job.Job
	jobsByIdemKey  map[string]string
	auditRecords   map[string][]audit.Record // run id → ordered rows
	paramVersions  map[string]param.Version
	workflowSteps  map[string][]param.WorkflowStep // version id → steps
	configurations map[capital.Methodology]param.Configuration
	entities       map[string]entity.Entity
	mappings       []entity.ConsolidationMapping
	corpActions    map[string]entity.CorporateAction
	overrides      map[string]override.Override
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		indicators:     make(map[string]indicator.BusinessIndicator),
		indicatorByKey: make(map[string]string),
		lossEvents:     make(map[string]loss.Event),
		recoveries:     make(map[string][]loss.Recovery),
		calculations:   make(map[string]capital.Result),
		jobs:           make(map[string]job.Job),
		jobsByIdemKey:  make(map[string]string),
		auditRecords:   make(map[string][]audit.Record),
		paramVersions:  make(map[string]param.Version),
		workflowSteps:  make(map[string][]param.WorkflowStep),
		configurations: make(map[capital.Methodology]param.Configuration),
		entities:       make(map[string]entity.Entity),
		corpActions:    make(map[string]entity.CorporateAction),
		overrides:      make(map[string]override.Override),
	}
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func indicatorKey(entityID, period string) string {
	return entityID + "|" + period
}

// BusinessIndicatorStore ------------------------------------------------------

func (m *Memory) CreateBusinessIndicator(_ context.Context, bi indicator.BusinessIndicator) (indicator.BusinessIndicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := indicatorKey(bi.EntityID, bi.Period)
	if _, exists := m.indicatorByKey[key]; exists {
		return indicator.BusinessIndicator{}, serrors.New(serrors.ErrCodeDuplicatePeriod,
			"business indicator already recorded for period", 409).
			WithDetails("entity_id", bi.EntityID).WithDetails("period", bi.Period)
	}
	if bi.CreatedAt.IsZero() {
		bi.CreatedAt = time.Now().UTC()
	}
	m.indicators[bi.ID] = bi
	m.indicatorByKey[key] = bi.ID
	return bi, nil
}

func (m *Memory) GetBusinessIndicator(_ context.Context, entityID, period string) (indicator.BusinessIndicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.indicatorByKey[indicatorKey(entityID, period)]
	if !ok {
		return indicator.BusinessIndicator{}, serrors.NotFound(serrors.ErrCodeEntityNotFound,
			"business indicator not found")
	}
	return m.indicators[id], nil
}

func (m *Memory) ListBusinessIndicators(_ context.Context, entityID string, onOrBefore time.Time, limit int) ([]indicator.BusinessIndicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []indicator.BusinessIndicator
	for _, bi := range m.indicators {
		if bi.EntityID == entityID && !bi.CalculationDate.After(onOrBefore) {
			out = append(out, bi)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CalculationDate.Equal(out[j].CalculationDate) {
			return out[i].CalculationDate.After(out[j].CalculationDate)
		}
		return out[i].Period > out[j].Period
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LossEventStore --------------------------------------------------------------

func (m *Memory) CreateLossEvent(_ context.Context, ev loss.Event) (loss.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	m.lossEvents[ev.ID] = ev
	return ev, nil
}

func (m *Memory) UpdateLossEvent(_ context.Context, ev loss.Event) (loss.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.lossEvents[ev.ID]
	if !ok {
		return loss.Event{}, serrors.NotFound(serrors.ErrCodeValidation, "loss event not found")
	}
	ev.CreatedAt = original.CreatedAt
	ev.UpdatedAt = time.Now().UTC()
	m.lossEvents[ev.ID] = ev
	return ev, nil
}

func (m *Memory) GetLossEvent(_ context.Context, id string) (loss.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.lossEvents[id]
	if !ok {
		return loss.Event{}, serrors.NotFound(serrors.ErrCodeValidation, "loss event not found")
	}
	return ev, nil
}

func (m *Memory) ListLossEvents(_ context.Context, entityID string, from, to time.Time) ([]loss.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []loss.Event
	for _, ev := range m.lossEvents {
		if ev.EntityID != entityID {
			continue
		}
		if ev.AccountingDate.Before(from) || ev.AccountingDate.After(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AccountingDate.Equal(out[j].AccountingDate) {
			return out[i].AccountingDate.Before(out[j].AccountingDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateRecovery(_ context.Context, rec loss.Recovery) (loss.Recovery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lossEvents[rec.LossEventID]; !ok {
		return loss.Recovery{}, serrors.NotFound(serrors.ErrCodeValidation, "loss event not found")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.recoveries[rec.LossEventID] = append(m.recoveries[rec.LossEventID], rec)
	return rec, nil
}

func (m *Memory) ListRecoveries(_ context.Context, lossEventID string) ([]loss.Recovery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.recoveries[lossEventID]
	out := make([]loss.Recovery, len(recs))
	copy(out, recs)
	return out, nil
}

// CalculationStore ------------------------------------------------------------

func (m *Memory) CreateCalculation(_ context.Context, res capital.Result) (capital.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	m.calculations[res.RunID] = res
	return res, nil
}

func (m *Memory) GetCalculation(_ context.Context, runID string) (capital.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.calculations[runID]
	if !ok {
		return capital.Result{}, serrors.NotFound(serrors.ErrCodeCalculationNotFound, "calculation not found")
	}
	return res, nil
}

// JobStore --------------------------------------------------------------------

func (m *Memory) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	m.jobs[j.ID] = j
	if j.IdempotencyKey != "" {
		m.jobsByIdemKey[j.IdempotencyKey] = j.ID
	}
	return j, nil
}

func (m *Memory) UpdateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.jobs[j.ID]
	if !ok {
		return job.Job{}, serrors.NotFound(serrors.ErrCodeJobNotFound, "job not found")
	}
	j.CreatedAt = original.CreatedAt
	m.jobs[j.ID] = j
	return j, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return job.Job{}, serrors.NotFound(serrors.ErrCodeJobNotFound, "job not found")
	}
	return j, nil
}

func (m *Memory) GetJobByIdempotencyKey(_ context.Context, key string) (job.Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.jobsByIdemKey[key]
	if !ok {
		return job.Job{}, false, nil
	}
	return m.jobs[id], true, nil
}

func (m *Memory) ListJobs(_ context.Context, status job.Status) ([]job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []job.Job
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteTerminalJobsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, id)
		if j.IdempotencyKey != "" {
			delete(m.jobsByIdemKey, j.IdempotencyKey)
		}
		removed++
	}
	return removed, nil
}

// AuditStore ------------------------------------------------------------------

func (m *Memory) AppendAuditRecord(_ context.Context, rec audit.Record) (audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.auditRecords[rec.RunID] = append(m.auditRecords[rec.RunID], rec)
	return rec, nil
}

func (m *Memory) ListAuditRecords(_ context.Context, runID string) ([]audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.auditRecords[runID]
	out := make([]audit.Record, len(rows))
	copy(out, rows)
	return out, nil
}

// ParameterStore --------------------------------------------------------------

func (m *Memory) CreateParameterVersion(_ context.Context, v param.Version) (param.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	m.paramVersions[v.VersionID] = v
	return v, nil
}

func (m *Memory) UpdateParameterVersion(_ context.Context, v param.Version) (param.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.paramVersions[v.VersionID]
	if !ok {
		return param.Version{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "parameter version not found")
	}
	v.CreatedAt = original.CreatedAt
	v.UpdatedAt = time.Now().UTC()
	m.paramVersions[v.VersionID] = v
	return v, nil
}

func (m *Memory) GetParameterVersion(_ context.Context, versionID string) (param.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.paramVersions[versionID]
	if !ok {
		return param.Version{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "parameter version not found")
	}
	return v, nil
}

func (m *Memory) ListParameterVersions(_ context.Context, model capital.Methodology, name string) ([]param.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []param.Version
	for _, v := range m.paramVersions {
		if v.ModelName == model && v.ParameterName == name {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (m *Memory) GetActiveVersion(_ context.Context, model capital.Methodology, name string) (param.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.paramVersions {
		if v.ModelName == model && v.ParameterName == name && v.Status == param.StatusActive {
			return v, nil
		}
	}
	return param.Version{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "no active version")
}

func (m *Memory) ListActiveVersions(_ context.Context, model capital.Methodology) ([]param.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []param.Version
	for _, v := range m.paramVersions {
		if v.ModelName == model && v.Status == param.StatusActive {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParameterName < out[j].ParameterName })
	return out, nil
}

func (m *Memory) ActivateVersion(_ context.Context, versionID string) (param.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.paramVersions[versionID]
	if !ok {
		return param.Version{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "parameter version not found")
	}

	now := time.Now().UTC()
	for id, prev := range m.paramVersions {
		if id == versionID {
			continue
		}
		if prev.ModelName == v.ModelName && prev.ParameterName == v.ParameterName && prev.Status == param.StatusActive {
			prev.Status = param.StatusSuperseded
			prev.UpdatedAt = now
			m.paramVersions[id] = prev
		}
	}
	v.Status = param.StatusActive
	v.UpdatedAt = now
	m.paramVersions[versionID] = v
	return v, nil
}

func (m *Memory) AppendWorkflowStep(_ context.Context, step param.WorkflowStep) (param.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	m.workflowSteps[step.VersionID] = append(m.workflowSteps[step.VersionID], step)
	return step, nil
}

func (m *Memory) ListWorkflowSteps(_ context.Context, versionID string) ([]param.WorkflowStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := m.workflowSteps[versionID]
	out := make([]param.WorkflowStep, len(steps))
	copy(out, steps)
	return out, nil
}

func (m *Memory) GetConfiguration(_ context.Context, model capital.Methodology) (param.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configurations[model]
	if !ok {
		return param.Configuration{}, serrors.NotFound(serrors.ErrCodeParameterNotFound, "no configuration for model")
	}
	return cfg, nil
}

func (m *Memory) SaveConfiguration(_ context.Context, cfg param.Configuration) (param.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg.UpdatedAt = time.Now().UTC()
	m.configurations[cfg.ModelName] = cfg
	return cfg, nil
}

// EntityStore -----------------------------------------------------------------

func (m *Memory) CreateEntity(_ context.Context, e entity.Entity) (entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entities[e.ID] = e
	return e, nil
}

func (m *Memory) GetEntity(_ context.Context, id string) (entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok {
		return entity.Entity{}, serrors.NotFound(serrors.ErrCodeEntityNotFound, "entity not found")
	}
	return e, nil
}

func (m *Memory) ListChildEntities(_ context.Context, parentID string) ([]entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entity.Entity
	for _, e := range m.entities {
		if e.ParentEntityID == parentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateConsolidationMapping(_ context.Context, mapping entity.ConsolidationMapping) (entity.ConsolidationMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mappings = append(m.mappings, mapping)
	return mapping, nil
}

func (m *Memory) GetEffectiveMapping(_ context.Context, parentID, childID string, date time.Time) (entity.ConsolidationMapping, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mp := range m.mappings {
		if mp.ParentEntityID == parentID && mp.ChildEntityID == childID && mp.EffectiveAt(date) {
			return mp, true, nil
		}
	}
	return entity.ConsolidationMapping{}, false, nil
}

func (m *Memory) ListConsolidationMappings(_ context.Context, parentID, childID string) ([]entity.ConsolidationMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entity.ConsolidationMapping
	for _, mp := range m.mappings {
		if mp.ParentEntityID == parentID && mp.ChildEntityID == childID {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (m *Memory) CreateCorporateAction(_ context.Context, a entity.CorporateAction) (entity.CorporateAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.corpActions[a.ID] = a
	return a, nil
}

func (m *Memory) ListCorporateActions(_ context.Context, entityIDs []string, upTo time.Time) ([]entity.CorporateAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		members[id] = true
	}
	var out []entity.CorporateAction
	for _, a := range m.corpActions {
		if a.EffectiveDate.After(upTo) {
			continue
		}
		if members[a.TargetEntityID] || members[a.AcquirerEntityID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

// OverrideStore ---------------------------------------------------------------

func (m *Memory) CreateOverride(_ context.Context, o override.Override) (override.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.overrides[o.ID] = o
	return o, nil
}

func (m *Memory) UpdateOverride(_ context.Context, o override.Override) (override.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.overrides[o.ID]
	if !ok {
		return override.Override{}, serrors.NotFound(serrors.ErrCodeOverrideNotFound, "override not found")
	}
	o.CreatedAt = original.CreatedAt
	o.UpdatedAt = time.Now().UTC()
	m.overrides[o.ID] = o
	return o, nil
}

func (m *Memory) GetOverride(_ context.Context, id string) (override.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.overrides[id]
	if !ok {
		return override.Override{}, serrors.NotFound(serrors.ErrCodeOverrideNotFound, "override not found")
	}
	return o, nil
}

func (m *Memory) ListOverrides(_ context.Context, entityID string) ([]override.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []override.Override
	for _, o := range m.overrides {
		if entityID == "" || o.EntityID == entityID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListAppliedOverrides(_ context.Context, entityID string, date time.Time) ([]override.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []override.Override
	for _, o := range m.overrides {
		if o.Status == override.StatusApplied && o.EntityID == entityID && o.EffectiveAt(date) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
