// Package job defines calculation job records and the request/response shapes
// accepted by the scheduler.
package job

import (
	"time"

	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/indicator"
	"github.com/logicthinker/orm-capital-engine/internal/domain/param"
)

// Status is the execution state of a job. Transitions are strictly
// queued → running → (completed | failed).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses for the monotonic-progression invariant.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ExecutionMode selects sync or async execution.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// Request is a calculation request accepted by the scheduler. The legacy
// methodologies take their income rows inline; SMA reads stored business
// indicators and loss events.
type Request struct {
	ModelName       capital.Methodology    `json:"model_name"`
	ExecutionMode   ExecutionMode          `json:"execution_mode"`
	EntityID        string                 `json:"entity_id"`
	CalculationDate time.Time              `json:"calculation_date"`
	Parameters      map[string]param.Value `json:"parameters,omitempty"` // overlay

	GrossIncome []indicator.GrossIncomeYear    `json:"gross_income,omitempty"`
	LineIncome  []indicator.BusinessLineIncome `json:"line_income,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty"`
	Initiator      string `json:"initiator,omitempty"`
}

// Job tracks one calculation execution.
type Job struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	Status        Status        `json:"status"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	Request       Request       `json:"request"`
	ProgressPct   int           `json:"progress_pct"`

	Result    *capital.Result `json:"result,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`

	CallbackURL      string `json:"callback_url,omitempty"`
	WebhookDelivered bool   `json:"webhook_delivered"`
	WebhookAttempts  int    `json:"webhook_attempts"`

	PredictedDuration time.Duration `json:"predicted_duration"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Response is the async submission acknowledgement.
type Response struct {
	JobID       string    `json:"job_id"`
	RunID       string    `json:"run_id"`
	Status      Status    `json:"status"`
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
