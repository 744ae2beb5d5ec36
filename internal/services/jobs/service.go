// Package jobs implements the calculation scheduler: sync/async dispatch with
// promotion, idempotent submission, a bounded worker pool, cancellation, and
// webhook delivery.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/logicthinker/orm-capital-engine/infrastructure/config"
	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
	"github.com/logicthinker/orm-capital-engine/infrastructure/metrics"
	"github.com/logicthinker/orm-capital-engine/internal/domain/capital"
	"github.com/logicthinker/orm-capital-engine/internal/domain/job"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// Runner executes one calculation for a run ID.
type Runner interface {
	Run(ctx context.Context, req job.Request, runID string) (*capital.Result, error)
}

// Service is the job scheduler.
type Service struct {
	store   storage.JobStore
	runner  Runner
	webhook *WebhookDeliverer
	cfg     config.JobsConfig
	metrics *metrics.Metrics
	log     *logger.Logger

	queue chan string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	cronRunner *cron.Cron
	wg         sync.WaitGroup
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewService constructs the scheduler. Call Start to launch the worker pool
// and the cleanup schedule.
func NewService(store storage.JobStore, runner Runner, webhook *WebhookDeliverer, cfg config.JobsConfig, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		runner:  runner,
		webhook: webhook,
		cfg:     cfg,
		metrics: m,
		log:     log.WithComponent("jobs"),
		queue:   make(chan string, 4*cfg.MaxConcurrentJobs),
		cancels: make(map[string]context.CancelFunc),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker pool and the terminal-job cleanup schedule.
func (s *Service) Start(ctx context.Context) error {
	for i := 0; i < s.cfg.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.cronRunner = cron.New()
	if _, err := s.cronRunner.AddFunc(s.cfg.CleanupSchedule, func() {
		if _, err := s.Cleanup(context.Background()); err != nil {
			s.log.WithError(err).Warn("job cleanup failed")
		}
	}); err != nil {
		return err
	}
	s.cronRunner.Start()
	return nil
}

// Shutdown stops accepting work and waits for in-flight jobs.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cronRunner != nil {
			s.cronRunner.Stop()
		}
	})
	s.wg.Wait()
}

// predictDuration estimates execution time for admission control. SMA walks
// stores and a decade of losses; the legacy methods run over inline rows.
func predictDuration(req job.Request) time.Duration {
	switch req.ModelName {
	case capital.SMA:
		return 5 * time.Second
	default:
		return 2 * time.Second
	}
}

// Submit enqueues (or executes) a calculation. A request whose idempotency
// key matches an existing job returns that job unchanged.
func (s *Service) Submit(ctx context.Context, req job.Request) (job.Job, error) {
	if req.EntityID == "" {
		return job.Job{}, serrors.MissingField("entity_id")
	}
	if _, err := capital.ParseMethodology(string(req.ModelName)); err != nil {
		return job.Job{}, serrors.InvalidEnum("model_name", string(req.ModelName))
	}

	if req.IdempotencyKey != "" {
		if existing, found, err := s.store.GetJobByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return job.Job{}, err
		} else if found {
			return existing, nil
		}
	}

	predicted := predictDuration(req)
	mode := req.ExecutionMode
	if mode == "" {
		mode = job.ModeAsync
	}
	// Promote long predictions to async regardless of the requested mode.
	if mode == job.ModeSync && predicted > s.cfg.SyncThreshold {
		mode = job.ModeAsync
	}

	j := job.Job{
		ID:                "job_" + uuid.NewString(),
		RunID:             "run_" + uuid.NewString(),
		Status:            job.StatusQueued,
		ExecutionMode:     mode,
		Request:           req,
		IdempotencyKey:    req.IdempotencyKey,
		CorrelationID:     req.CorrelationID,
		CallbackURL:       req.CallbackURL,
		PredictedDuration: predicted,
		CreatedAt:         time.Now().UTC(),
	}
	j, err := s.store.CreateJob(ctx, j)
	if err != nil {
		return job.Job{}, err
	}

	if mode == job.ModeSync {
		return s.runSync(ctx, j)
	}

	if s.metrics != nil {
		s.metrics.JobsQueued.Inc()
	}
	select {
	case s.queue <- j.ID:
	default:
		// Queue saturated: the job stays queued and a background goroutine
		// hands it to the queue once a slot frees up.
		go func() { s.queue <- j.ID }()
	}
	return j, nil
}

// runSync executes the job inline with a deadline of the sync threshold.
// Exceeding the deadline leaves the job running asynchronously and returns
// the handle.
func (s *Service) runSync(ctx context.Context, j job.Job) (job.Job, error) {
	done := make(chan job.Job, 1)
	go func() {
		done <- s.execute(context.WithoutCancel(ctx), j.ID)
	}()

	select {
	case finished := <-done:
		return finished, nil
	case <-time.After(s.cfg.SyncThreshold):
		// Promoted: the caller polls the job handle.
		current, err := s.store.GetJob(ctx, j.ID)
		if err != nil {
			return job.Job{}, err
		}
		return current, nil
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case id := <-s.queue:
			if s.metrics != nil {
				s.metrics.JobsQueued.Dec()
			}
			s.execute(ctx, id)
		}
	}
}

// execute drives one job through running to a terminal state and fires the
// webhook on completion. Returns the terminal job record.
func (s *Service) execute(ctx context.Context, jobID string) job.Job {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("job vanished before execution")
		return job.Job{}
	}
	if j.Status != job.StatusQueued {
		// Cancelled (or already handled) before a worker picked it up.
		return j
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[j.ID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, j.ID)
		s.mu.Unlock()
	}()

	now := time.Now().UTC()
	j.Status = job.StatusRunning
	j.StartedAt = &now
	j.ProgressPct = 10
	if j, err = s.store.UpdateJob(ctx, j); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("failed to mark job running")
		return j
	}
	if s.metrics != nil {
		s.metrics.JobsRunning.Inc()
		defer s.metrics.JobsRunning.Dec()
	}

	started := time.Now()
	result, runErr := s.runner.Run(runCtx, j.Request, j.RunID)

	finished := time.Now().UTC()
	j.CompletedAt = &finished
	j.ProgressPct = 100

	outcome := "completed"
	switch {
	case runCtx.Err() != nil:
		// Cancelled mid-run: the engine result, if any, is discarded.
		j.Status = job.StatusFailed
		j.ErrorCode = string(serrors.ErrCodeJobCancelled)
		j.Error = "job cancelled"
		j.Result = nil
		outcome = "cancelled"
	case runErr != nil:
		j.Status = job.StatusFailed
		j.ErrorCode = string(serrors.CodeOf(runErr))
		j.Error = runErr.Error()
		outcome = "failed"
	default:
		j.Status = job.StatusCompleted
		j.Result = result
	}

	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(string(j.Status)).Inc()
		s.metrics.ObserveCalculation(string(j.Request.ModelName), outcome, time.Since(started))
	}

	updated, err := s.store.UpdateJob(ctx, j)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("failed to finalize job")
		return j
	}

	if updated.CallbackURL != "" && s.webhook != nil {
		updated = s.webhook.Deliver(ctx, updated, s.store)
	}
	return updated
}

// GetStatus returns the current job record.
func (s *Service) GetStatus(ctx context.Context, jobID string) (job.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// GetResult returns the result of a completed job.
func (s *Service) GetResult(ctx context.Context, jobID string) (*capital.Result, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusCompleted || j.Result == nil {
		return nil, serrors.New(serrors.ErrCodeJobNotFound,
			"job has no result in status "+string(j.Status), 409)
	}
	return j.Result, nil
}

// Cancel aborts a queued or running job. Terminal jobs are left untouched.
func (s *Service) Cancel(ctx context.Context, jobID string) (job.Job, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if j.Status.Terminal() {
		return job.Job{}, serrors.InvalidTransition(serrors.ErrCodeJobCancelled,
			string(j.Status), "cancel")
	}

	s.mu.Lock()
	cancel, running := s.cancels[jobID]
	s.mu.Unlock()

	if running {
		// The worker observes the cancellation and finalizes the job.
		cancel()
		return s.store.GetJob(ctx, jobID)
	}

	// Still queued: fail it directly; the worker skips non-queued jobs.
	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.ErrorCode = string(serrors.ErrCodeJobCancelled)
	j.Error = "job cancelled before execution"
	j.CompletedAt = &now
	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(string(job.StatusFailed)).Inc()
	}
	return s.store.UpdateJob(ctx, j)
}

// Cleanup purges terminal jobs older than the configured maximum age.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxJobAge)
	removed, err := s.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("purged terminal jobs")
	}
	return removed, nil
}
