package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// fakeJobRepo is a plain struct standing in for storage.JobRepository,
// enforcing the same idempotency-key-reuse rule the real Postgres upsert
// does: a re-enqueue at an existing key is dropped unless that job is
// terminal.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*models.Job)}
}

func (f *fakeJobRepo) Enqueue(ctx context.Context, j *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.jobs[j.ID]; ok && !existing.Status.Terminal() {
		return nil
	}
	clone := *j
	f.jobs[j.ID] = &clone
	return nil
}

func (f *fakeJobRepo) Get(ctx context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID], nil
}

func (f *fakeJobRepo) ListReady(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Job
	for _, j := range f.jobs {
		if (j.Status == models.JobWaiting || j.Status == models.JobDelayed) && !j.NextAttemptAt.After(now) {
			out = append(out, j)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeJobRepo) HasInFlight(ctx context.Context, contractID uuid.UUID, jobType models.JobType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ContractID != nil && *j.ContractID == contractID && j.Type == jobType && !j.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeJobRepo) MarkActive(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = models.JobActive
	return nil
}

func (f *fakeJobRepo) MarkCompleted(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = models.JobCompleted
	return nil
}

func (f *fakeJobRepo) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.Status = models.JobFailed
	j.LastError = &errMsg
	return nil
}

func (f *fakeJobRepo) Reschedule(ctx context.Context, jobID string, attempts int, nextAttemptAt time.Time, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.Status = models.JobDelayed
	j.Attempts = attempts
	j.NextAttemptAt = nextAttemptAt
	j.LastError = &errMsg
	return nil
}

func (f *fakeJobRepo) FailAllActive(ctx context.Context, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.Status == models.JobActive {
			j.Status = models.JobFailed
			j.LastError = &reason
			n++
		}
	}
	return n, nil
}

// fakeSyncStateRepo stands in for storage.SyncStateRepository.
type fakeSyncStateRepo struct {
	mu            sync.Mutex
	stuck         []uuid.UUID
	catchUp       []uuid.UUID
	statusUpdates map[uuid.UUID]types.ContractStatus
}

func (f *fakeSyncStateRepo) ListStuck(ctx context.Context, threshold time.Duration) ([]uuid.UUID, error) {
	return f.stuck, nil
}

func (f *fakeSyncStateRepo) ListNeedingCatchUp(ctx context.Context) ([]uuid.UUID, error) {
	return f.catchUp, nil
}

func (f *fakeSyncStateRepo) SetStatus(ctx context.Context, contractID uuid.UUID, status types.ContractStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusUpdates == nil {
		f.statusUpdates = make(map[uuid.UUID]types.ContractStatus)
	}
	f.statusUpdates[contractID] = status
	return nil
}

func testConfig(jobRepo JobRepository, syncRepo SyncStateRepository, handlers map[models.JobType]Handler) Config {
	return Config{
		JobRepo:       jobRepo,
		SyncStateRepo: syncRepo,
		Handlers:      handlers,
		Workers:       2,
	}
}

func TestScheduler_Enqueue_RejectsReenqueueOfNonTerminalJob(t *testing.T) {
	jobRepo := newFakeJobRepo()
	s, err := NewScheduler(testConfig(jobRepo, &fakeSyncStateRepo{}, map[models.JobType]Handler{
		models.JobSync: func(ctx context.Context, job *models.Job) error { return nil },
	}))
	require.NoError(t, err)

	contractID := uuid.New()
	require.NoError(t, s.EnqueueSync(context.Background(), contractID))
	first, err := jobRepo.Get(context.Background(), models.IdempotencyKey(models.JobSync, &contractID))
	require.NoError(t, err)
	require.NotNil(t, first)

	jobRepo.jobs[first.ID].Status = models.JobActive
	require.NoError(t, s.EnqueueSync(context.Background(), contractID))

	after, err := jobRepo.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobActive, after.Status)
}

func TestScheduler_Enqueue_ReplacesTerminalJob(t *testing.T) {
	jobRepo := newFakeJobRepo()
	s, err := NewScheduler(testConfig(jobRepo, &fakeSyncStateRepo{}, map[models.JobType]Handler{
		models.JobSync: func(ctx context.Context, job *models.Job) error { return nil },
	}))
	require.NoError(t, err)

	contractID := uuid.New()
	require.NoError(t, s.EnqueueSync(context.Background(), contractID))
	key := models.IdempotencyKey(models.JobSync, &contractID)
	jobRepo.jobs[key].Status = models.JobFailed

	require.NoError(t, s.EnqueueSync(context.Background(), contractID))
	after, err := jobRepo.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, models.JobWaiting, after.Status)
	require.Equal(t, 0, after.Attempts)
}

func TestScheduler_RunJob_RetriesWithBackoffThenFails(t *testing.T) {
	jobRepo := newFakeJobRepo()
	var attempts int
	s, err := NewScheduler(testConfig(jobRepo, &fakeSyncStateRepo{}, map[models.JobType]Handler{
		models.JobSync: func(ctx context.Context, job *models.Job) error {
			attempts++
			return fmt.Errorf("rpc blew up")
		},
	}))
	require.NoError(t, err)
	s.cfg.MaxAttempts = 3
	s.cfg.InitialBackoff = time.Second

	contractID := uuid.New()
	require.NoError(t, s.EnqueueSync(context.Background(), contractID))
	key := models.IdempotencyKey(models.JobSync, &contractID)

	job, err := jobRepo.Get(context.Background(), key)
	require.NoError(t, err)

	s.runJob(context.Background(), job)
	after, _ := jobRepo.Get(context.Background(), key)
	require.Equal(t, models.JobDelayed, after.Status)
	require.Equal(t, 1, after.Attempts)

	after.Status = models.JobWaiting
	s.runJob(context.Background(), after)
	after2, _ := jobRepo.Get(context.Background(), key)
	require.Equal(t, models.JobDelayed, after2.Status)
	require.Equal(t, 2, after2.Attempts)

	after2.Status = models.JobWaiting
	s.runJob(context.Background(), after2)
	final, _ := jobRepo.Get(context.Background(), key)
	require.Equal(t, models.JobFailed, final.Status)
	require.Equal(t, 3, attempts)
}

func TestScheduler_RunCatchUp_SkipsContractsWithInFlightJob(t *testing.T) {
	jobRepo := newFakeJobRepo()
	contractID := uuid.New()
	syncRepo := &fakeSyncStateRepo{catchUp: []uuid.UUID{contractID}}

	s, err := NewScheduler(testConfig(jobRepo, syncRepo, map[models.JobType]Handler{
		models.JobSync: func(ctx context.Context, job *models.Job) error { return nil },
	}))
	require.NoError(t, err)

	require.NoError(t, s.EnqueueSync(context.Background(), contractID))
	before := len(jobRepo.jobs)

	s.runCatchUp(context.Background())
	require.Equal(t, before, len(jobRepo.jobs), "an in-flight sync job must not be duplicated")
}

func TestScheduler_RunCatchUp_EnqueuesForIdleContract(t *testing.T) {
	jobRepo := newFakeJobRepo()
	contractID := uuid.New()
	syncRepo := &fakeSyncStateRepo{catchUp: []uuid.UUID{contractID}}

	s, err := NewScheduler(testConfig(jobRepo, syncRepo, map[models.JobType]Handler{
		models.JobSync: func(ctx context.Context, job *models.Job) error { return nil },
	}))
	require.NoError(t, err)

	s.runCatchUp(context.Background())

	key := models.IdempotencyKey(models.JobSync, &contractID)
	job, err := jobRepo.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestScheduler_RunStuckRecovery_FlipsStatusWhenNoInFlightJob(t *testing.T) {
	jobRepo := newFakeJobRepo()
	contractID := uuid.New()
	syncRepo := &fakeSyncStateRepo{stuck: []uuid.UUID{contractID}}

	s, err := NewScheduler(testConfig(jobRepo, syncRepo, map[models.JobType]Handler{
		models.JobSync: func(ctx context.Context, job *models.Job) error { return nil },
	}))
	require.NoError(t, err)

	s.runStuckRecovery(context.Background())
	require.Equal(t, types.StatusError, syncRepo.statusUpdates[contractID])
}

func TestScheduler_Reconcile_FailsActiveJobsFromPreviousRun(t *testing.T) {
	jobRepo := newFakeJobRepo()
	contractID := uuid.New()
	jobRepo.jobs["sync-"+contractID.String()] = &models.Job{
		ID:     "sync-" + contractID.String(),
		Type:   models.JobSync,
		Status: models.JobActive,
	}

	s, err := NewScheduler(testConfig(jobRepo, &fakeSyncStateRepo{}, map[models.JobType]Handler{
		models.JobSync: func(ctx context.Context, job *models.Job) error { return nil },
	}))
	require.NoError(t, err)

	require.NoError(t, s.reconcile(context.Background()))
	job, err := jobRepo.Get(context.Background(), "sync-"+contractID.String())
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, job.Status)
}

func TestScheduler_AggregationTimer_EnqueuesSingleSweepJob(t *testing.T) {
	jobRepo := newFakeJobRepo()
	s, err := NewScheduler(testConfig(jobRepo, &fakeSyncStateRepo{}, map[models.JobType]Handler{
		models.JobAggregate: func(ctx context.Context, job *models.Job) error { return nil },
	}))
	require.NoError(t, err)

	s.runAggregationTimer(context.Background())
	s.runAggregationTimer(context.Background())

	require.Len(t, jobRepo.jobs, 1, "aggregate jobs share one idempotency key regardless of how many timers fire")
}
