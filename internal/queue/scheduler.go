// Package queue implements the durable job scheduler: three job types
// (discover, sync, aggregate) dispatched from a Postgres-backed queue by a
// bounded worker pool, plus the catch-up, stuck-recovery, and aggregation
// timers that keep every active contract moving without an operator
// enqueuing anything by hand. Grounded on the worker-pool-plus-DB-backed
// queue shape of a priority job queue, generalized from per-address
// backfill jobs to per-contract discover/sync/aggregate jobs.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/errors"
	"github.com/anders94/stablecoin-wars-backend/internal/logging"
	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// JobRepository is the subset of storage.JobRepository the scheduler needs.
type JobRepository interface {
	Enqueue(ctx context.Context, j *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	ListReady(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	HasInFlight(ctx context.Context, contractID uuid.UUID, jobType models.JobType) (bool, error)
	MarkActive(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
	Reschedule(ctx context.Context, jobID string, attempts int, nextAttemptAt time.Time, errMsg string) error
	FailAllActive(ctx context.Context, reason string) (int64, error)
}

// SyncStateRepository is the subset of storage.SyncStateRepository the
// catch-up and stuck-recovery timers need.
type SyncStateRepository interface {
	ListStuck(ctx context.Context, threshold time.Duration) ([]uuid.UUID, error)
	ListNeedingCatchUp(ctx context.Context) ([]uuid.UUID, error)
	SetStatus(ctx context.Context, contractID uuid.UUID, status types.ContractStatus, errMsg *string) error
}

// Handler executes one job. Returning errors.NewCancelled() signals
// shutdown rather than failure: the job is neither rescheduled nor marked
// failed here and stays "active", so the next startup reconciliation marks
// it failed ("stuck from previous run").
type Handler func(ctx context.Context, job *models.Job) error

// Config configures one Scheduler.
type Config struct {
	JobRepo       JobRepository
	SyncStateRepo SyncStateRepository
	Handlers      map[models.JobType]Handler

	Workers                int
	PollInterval           time.Duration
	CatchUpInterval        time.Duration
	StuckRecoveryInterval  time.Duration
	StuckRecoveryThreshold time.Duration
	AggregationInterval    time.Duration
	MaxAttempts            int
	InitialBackoff         time.Duration
	DiscoveryTimeout       time.Duration
	SyncTimeout            time.Duration
	AggregationTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.CatchUpInterval <= 0 {
		c.CatchUpInterval = 30 * time.Second
	}
	if c.StuckRecoveryInterval <= 0 {
		c.StuckRecoveryInterval = 30 * time.Second
	}
	if c.StuckRecoveryThreshold <= 0 {
		c.StuckRecoveryThreshold = 2 * time.Hour
	}
	if c.AggregationInterval <= 0 {
		c.AggregationInterval = time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 5 * time.Second
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 2 * time.Hour
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 24 * time.Hour
	}
	if c.AggregationTimeout <= 0 {
		c.AggregationTimeout = 30 * time.Minute
	}
}

// Scheduler dispatches ready jobs from the durable queue through a bounded
// worker pool and drives the three periodic timers of §4.5.
type Scheduler struct {
	cfg Config

	workerSem chan struct{}

	mu      sync.Mutex
	running bool
	paused  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.JobRepo == nil || cfg.SyncStateRepo == nil {
		return nil, fmt.Errorf("job and sync state repositories are required")
	}
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("at least one job handler is required")
	}
	cfg.applyDefaults()

	return &Scheduler{
		cfg:       cfg,
		workerSem: make(chan struct{}, cfg.Workers),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start runs startup reconciliation, then launches the dispatch loop and
// the three timers, returning once reconciliation completes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.paused = true
	s.mu.Unlock()

	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()

	s.wg.Add(4)
	go s.loop(ctx, s.cfg.PollInterval, s.dispatchReady)
	go s.loop(ctx, s.cfg.CatchUpInterval, s.runCatchUp)
	go s.loop(ctx, s.cfg.StuckRecoveryInterval, s.runStuckRecovery)
	go s.loop(ctx, s.cfg.AggregationInterval, s.runAggregationTimer)

	go func() {
		s.wg.Wait()
		close(s.doneCh)
	}()
	return nil
}

// Stop pauses dispatch, signals every timer loop to exit, and waits up to
// the shutdown grace deadline for in-flight jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.paused = true
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("scheduler stop timed out")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// reconcile force-fails every job left "active" by a crashed previous run,
// per §4.5: waiting and delayed jobs are retained as-is.
func (s *Scheduler) reconcile(ctx context.Context) error {
	n, err := s.cfg.JobRepo.FailAllActive(ctx, "stuck from previous run")
	if err != nil {
		return err
	}
	if n > 0 {
		logging.WithComponent("queue").WithField("count", n).
			Warn("failed jobs left active by a previous run")
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// EnqueueDiscover enqueues a discover-contract job for contractID.
func (s *Scheduler) EnqueueDiscover(ctx context.Context, contractID uuid.UUID) error {
	return s.enqueuer().EnqueueDiscover(ctx, contractID)
}

// EnqueueSync enqueues a sync-contract job for contractID.
func (s *Scheduler) EnqueueSync(ctx context.Context, contractID uuid.UUID) error {
	return s.enqueuer().EnqueueSync(ctx, contractID)
}

// EnqueueAggregate enqueues the single aggregate-metrics sweep job.
func (s *Scheduler) EnqueueAggregate(ctx context.Context) error {
	return s.enqueuer().EnqueueAggregate(ctx)
}

func (s *Scheduler) enqueuer() *Enqueuer {
	return NewEnqueuer(s.cfg.JobRepo, s.cfg.MaxAttempts)
}

// Enqueuer builds and persists jobs without running any dispatch loop or
// timer — the thin slice of a Scheduler's responsibility that callers
// outside the worker process need, such as the REST front's
// triggerSync/resetContract handlers.
type Enqueuer struct {
	jobRepo     JobRepository
	maxAttempts int
}

// NewEnqueuer builds an Enqueuer backed directly by a job repository.
func NewEnqueuer(jobRepo JobRepository, maxAttempts int) *Enqueuer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Enqueuer{jobRepo: jobRepo, maxAttempts: maxAttempts}
}

// EnqueueDiscover enqueues a discover-contract job for contractID.
func (e *Enqueuer) EnqueueDiscover(ctx context.Context, contractID uuid.UUID) error {
	return e.enqueue(ctx, models.JobDiscover, &contractID)
}

// EnqueueSync enqueues a sync-contract job for contractID.
func (e *Enqueuer) EnqueueSync(ctx context.Context, contractID uuid.UUID) error {
	return e.enqueue(ctx, models.JobSync, &contractID)
}

// EnqueueAggregate enqueues the single aggregate-metrics sweep job.
func (e *Enqueuer) EnqueueAggregate(ctx context.Context) error {
	return e.enqueue(ctx, models.JobAggregate, nil)
}

func (e *Enqueuer) enqueue(ctx context.Context, jobType models.JobType, contractID *uuid.UUID) error {
	job := &models.Job{
		ID:            models.IdempotencyKey(jobType, contractID),
		Type:          jobType,
		ContractID:    contractID,
		Status:        models.JobWaiting,
		MaxAttempts:   e.maxAttempts,
		NextAttemptAt: time.Now(),
	}
	return e.jobRepo.Enqueue(ctx, job)
}

func (s *Scheduler) dispatchReady(ctx context.Context) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return
	}

	jobs, err := s.cfg.JobRepo.ListReady(ctx, time.Now(), s.cfg.Workers)
	if err != nil {
		logging.WithComponent("queue").WithError(err).Warn("list ready jobs failed")
		return
	}

	for _, job := range jobs {
		select {
		case s.workerSem <- struct{}{}:
		default:
			return // no free worker slot; remaining jobs are picked up next tick
		}
		s.wg.Add(1)
		go func(job *models.Job) {
			defer s.wg.Done()
			defer func() { <-s.workerSem }()
			s.runJob(ctx, job)
		}(job)
	}
}

// runJob executes one job to completion, marking it completed, failed, or
// rescheduled. It touches neither the worker semaphore nor the wait group —
// callers that run it off the dispatch loop (tests, in particular) can call
// it directly without needing to simulate either.
func (s *Scheduler) runJob(ctx context.Context, job *models.Job) {
	log := logging.WithComponent("queue").WithField("job_id", job.ID)

	if err := s.cfg.JobRepo.MarkActive(ctx, job.ID); err != nil {
		log.WithError(err).Warn("mark active failed")
		return
	}

	handler, ok := s.cfg.Handlers[job.Type]
	if !ok {
		_ = s.cfg.JobRepo.MarkFailed(ctx, job.ID, fmt.Sprintf("no handler registered for job type %q", job.Type))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.timeoutFor(job.Type))
	defer cancel()

	err := handler(jobCtx, job)
	if err == nil {
		if err := s.cfg.JobRepo.MarkCompleted(ctx, job.ID); err != nil {
			log.WithError(err).Warn("mark completed failed")
		}
		return
	}

	if errors.IsCancelled(err) {
		log.Warn("job interrupted by shutdown, leaving for next reconciliation")
		return
	}

	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		if err := s.cfg.JobRepo.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			log.WithError(err).Warn("mark failed failed")
		}
		return
	}

	backoff := s.cfg.InitialBackoff * time.Duration(1<<uint(attempts-1))
	if err := s.cfg.JobRepo.Reschedule(ctx, job.ID, attempts, time.Now().Add(backoff), err.Error()); err != nil {
		log.WithError(err).Warn("reschedule failed")
	}
}

func (s *Scheduler) timeoutFor(t models.JobType) time.Duration {
	switch t {
	case models.JobDiscover:
		return s.cfg.DiscoveryTimeout
	case models.JobSync:
		return s.cfg.SyncTimeout
	default:
		return s.cfg.AggregationTimeout
	}
}

// runCatchUp enqueues a sync-contract job for every contract whose
// sync-state is synced or error and that has no in-flight job, per §4.5's
// 30 s catch-up timer.
func (s *Scheduler) runCatchUp(ctx context.Context) {
	ids, err := s.cfg.SyncStateRepo.ListNeedingCatchUp(ctx)
	if err != nil {
		logging.WithComponent("queue").WithError(err).Warn("list catch-up candidates failed")
		return
	}
	for _, id := range ids {
		inFlight, err := s.cfg.JobRepo.HasInFlight(ctx, id, models.JobSync)
		if err != nil || inFlight {
			continue
		}
		if err := s.EnqueueSync(ctx, id); err != nil {
			logging.WithComponent("queue").WithContract(id.String()).
				WithError(err).Warn("enqueue catch-up sync failed")
		}
	}
}

// runStuckRecovery flips contracts stuck in "syncing" with no in-flight job
// to "error", per §4.5's 30 s stuck-recovery timer.
func (s *Scheduler) runStuckRecovery(ctx context.Context) {
	ids, err := s.cfg.SyncStateRepo.ListStuck(ctx, s.cfg.StuckRecoveryThreshold)
	if err != nil {
		logging.WithComponent("queue").WithError(err).Warn("list stuck contracts failed")
		return
	}
	for _, id := range ids {
		inFlight, err := s.cfg.JobRepo.HasInFlight(ctx, id, models.JobSync)
		if err != nil || inFlight {
			continue
		}
		msg := "no sync progress for longer than the stuck-recovery threshold"
		if err := s.cfg.SyncStateRepo.SetStatus(ctx, id, types.StatusError, &msg); err != nil {
			logging.WithComponent("queue").WithContract(id.String()).
				WithError(err).Warn("stuck recovery status update failed")
		}
	}
}

// runAggregationTimer enqueues the one aggregate-metrics sweep job, per
// §4.5's 1 h aggregation timer.
func (s *Scheduler) runAggregationTimer(ctx context.Context) {
	if err := s.EnqueueAggregate(ctx); err != nil {
		logging.WithComponent("queue").WithError(err).Warn("enqueue aggregation sweep failed")
	}
}
