package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/logicthinker/orm-capital-engine/infrastructure/config"
	"github.com/logicthinker/orm-capital-engine/infrastructure/metrics"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// WebhookDeliverer POSTs terminal job results to callback URLs with
// at-least-once semantics: bounded exponential-backoff retry behind a circuit
// breaker, every attempt counted on the job.
type WebhookDeliverer struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
	cfg     config.JobsConfig
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewWebhookDeliverer constructs a deliverer.
func NewWebhookDeliverer(cfg config.JobsConfig, m *metrics.Metrics, log *logger.Logger) *WebhookDeliverer {
	return &WebhookDeliverer{
		client: &http.Client{Timeout: cfg.WebhookTimeout},
		breaker: gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
			Name:    "webhook",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		cfg:     cfg,
		metrics: m,
		log:     log.WithComponent("webhook"),
	}
}

// payload is the webhook body for a terminal job.
type payload struct {
	JobID         string      `json:"job_id"`
	RunID         string      `json:"run_id"`
	Status        job.Status  `json:"status"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Result        interface{} `json:"result,omitempty"`
	ErrorCode     string      `json:"error_code,omitempty"`
	Error         string      `json:"error,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// Deliver POSTs the job outcome and records the delivery state. The job's
// terminal status is never changed by delivery failure.
func (w *WebhookDeliverer) Deliver(ctx context.Context, j job.Job, store storage.JobStore) job.Job {
	body, err := json.Marshal(payload{
		JobID:         j.ID,
		RunID:         j.RunID,
		Status:        j.Status,
		CorrelationID: j.CorrelationID,
		Result:        j.Result,
		ErrorCode:     j.ErrorCode,
		Error:         j.Error,
		CompletedAt:   j.CompletedAt,
	})
	if err != nil {
		w.log.WithError(err).WithField("job_id", j.ID).Error("webhook payload marshal failed")
		return j
	}

	attempts := 0
	operation := func() error {
		attempts++
		_, err := w.breaker.Execute(func() (int, error) {
			return w.post(ctx, j.CallbackURL, body)
		})
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.WebhookInitialWait
	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, w.cfg.WebhookMaxRetries), ctx))

	j.WebhookAttempts += attempts
	j.WebhookDelivered = err == nil

	outcome := "delivered"
	if err != nil {
		outcome = "failed"
		w.log.WithError(err).WithField("job_id", j.ID).
			WithField("attempts", attempts).Warn("webhook delivery exhausted")
	}
	if w.metrics != nil {
		w.metrics.WebhooksTotal.WithLabelValues(outcome).Inc()
	}

	updated, uerr := store.UpdateJob(ctx, j)
	if uerr != nil {
		w.log.WithError(uerr).WithField("job_id", j.ID).Error("failed to record webhook state")
		return j
	}
	return updated
}

func (w *WebhookDeliverer) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook target returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
