package postgres

// schema is the engine's persisted layout. Applied idempotently at startup;
// production migration tooling is outside the engine's scope.
const schema = `
CREATE TABLE IF NOT EXISTS business_indicators (
	id               TEXT PRIMARY KEY,
	entity_id        TEXT NOT NULL,
	period           TEXT NOT NULL,
	calculation_date DATE NOT NULL,
	ildc             NUMERIC(19,4) NOT NULL,
	sc               NUMERIC(19,4) NOT NULL,
	fc               NUMERIC(19,4) NOT NULL,
	bi_total         NUMERIC(19,4) NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (entity_id, period)
);
CREATE INDEX IF NOT EXISTS idx_bi_entity_date ON business_indicators (entity_id, calculation_date);

CREATE TABLE IF NOT EXISTS loss_events (
	id                     TEXT PRIMARY KEY,
	entity_id              TEXT NOT NULL,
	event_type             TEXT NOT NULL,
	business_line          TEXT NOT NULL,
	occurrence_date        DATE NOT NULL,
	discovery_date         DATE NOT NULL,
	accounting_date        DATE NOT NULL,
	gross_amount           NUMERIC(19,4) NOT NULL,
	net_amount             NUMERIC(19,4) NOT NULL,
	is_excluded            BOOLEAN NOT NULL DEFAULT FALSE,
	exclusion_reason       TEXT,
	rbi_approval_reference TEXT,
	disclosure_required    BOOLEAN NOT NULL DEFAULT FALSE,
	disclosure_until       TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_loss_entity_accounting ON loss_events (entity_id, accounting_date);

CREATE TABLE IF NOT EXISTS recoveries (
	id            TEXT PRIMARY KEY,
	loss_event_id TEXT NOT NULL REFERENCES loss_events(id),
	amount        NUMERIC(19,4) NOT NULL,
	receipt_date  DATE NOT NULL,
	recovery_type TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_recoveries_event ON recoveries (loss_event_id);

CREATE TABLE IF NOT EXISTS capital_calculations (
	run_id            TEXT PRIMARY KEY,
	entity_id         TEXT NOT NULL,
	calculation_date  DATE NOT NULL,
	methodology       TEXT NOT NULL,
	bi                NUMERIC(19,4) NOT NULL,
	bic               NUMERIC(19,4) NOT NULL,
	lc                NUMERIC(19,4) NOT NULL,
	ilm               NUMERIC(19,4) NOT NULL,
	orc               NUMERIC(19,2) NOT NULL,
	rwa               NUMERIC(19,2) NOT NULL,
	bucket            INTEGER,
	ilm_gated         BOOLEAN NOT NULL DEFAULT FALSE,
	ilm_gate_reason   TEXT,
	parameter_version TEXT,
	model_version     TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_calc_entity_date ON capital_calculations (entity_id, calculation_date);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	status          TEXT NOT NULL,
	execution_mode  TEXT NOT NULL,
	payload         JSONB NOT NULL,
	idempotency_key TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idem ON jobs (idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

CREATE TABLE IF NOT EXISTS audit_trail (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	sequence       INTEGER NOT NULL,
	payload        JSONB NOT NULL,
	immutable_hash TEXT NOT NULL,
	UNIQUE (run_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_trail (run_id);

CREATE TABLE IF NOT EXISTS parameter_versions (
	version_id     TEXT PRIMARY KEY,
	model_name     TEXT NOT NULL,
	parameter_name TEXT NOT NULL,
	status         TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_param_model_name ON parameter_versions (model_name, parameter_name);
CREATE INDEX IF NOT EXISTS idx_param_status ON parameter_versions (status);

CREATE TABLE IF NOT EXISTS parameter_workflow (
	id         TEXT PRIMARY KEY,
	version_id TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_workflow_version ON parameter_workflow (version_id);

CREATE TABLE IF NOT EXISTS parameter_configuration (
	model_name        TEXT PRIMARY KEY,
	active_version_id TEXT NOT NULL,
	next_version_id   TEXT,
	next_effective    TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entities (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	entity_type         TEXT,
	parent_entity_id    TEXT,
	consolidation_level TEXT,
	regulatory_code     TEXT,
	active              BOOLEAN NOT NULL DEFAULT TRUE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities (parent_entity_id);

CREATE TABLE IF NOT EXISTS consolidation_mappings (
	id                   TEXT PRIMARY KEY,
	parent_entity_id     TEXT NOT NULL,
	child_entity_id      TEXT NOT NULL,
	method               TEXT NOT NULL,
	ownership_percentage NUMERIC(7,4) NOT NULL,
	voting_percentage    NUMERIC(7,4) NOT NULL,
	effective_from       DATE NOT NULL,
	effective_to         DATE
);
CREATE INDEX IF NOT EXISTS idx_mappings_pair ON consolidation_mappings (parent_entity_id, child_entity_id);
CREATE INDEX IF NOT EXISTS idx_mappings_window ON consolidation_mappings (effective_from, effective_to);

CREATE TABLE IF NOT EXISTS corporate_actions (
	id            TEXT PRIMARY KEY,
	target_entity_id   TEXT NOT NULL,
	acquirer_entity_id TEXT,
	effective_date     DATE NOT NULL,
	payload            JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_target ON corporate_actions (target_entity_id);

CREATE TABLE IF NOT EXISTS supervisor_overrides (
	id             TEXT PRIMARY KEY,
	entity_id      TEXT NOT NULL,
	status         TEXT NOT NULL,
	effective_from DATE NOT NULL,
	effective_to   DATE,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_overrides_entity ON supervisor_overrides (entity_id);
CREATE INDEX IF NOT EXISTS idx_overrides_status ON supervisor_overrides (status);
CREATE INDEX IF NOT EXISTS idx_overrides_window ON supervisor_overrides (effective_from, effective_to);
`
