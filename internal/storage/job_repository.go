package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
)

// JobRepository persists the scheduler's durable work queue.
type JobRepository struct {
	db *PostgresDB
}

func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a new job, or replaces one at the same idempotency key if
// and only if the existing job there has reached a terminal state — a
// still-pending job with the same key is left untouched, implementing
// §4.5's "rejected unless the prior job is in a terminal state" rule.
func (r *JobRepository) Enqueue(ctx context.Context, j *models.Job) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO jobs (id, type, contract_id, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, NULL, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			type            = EXCLUDED.type,
			contract_id     = EXCLUDED.contract_id,
			status          = EXCLUDED.status,
			attempts        = 0,
			max_attempts    = EXCLUDED.max_attempts,
			next_attempt_at = EXCLUDED.next_attempt_at,
			last_error      = NULL,
			updated_at      = now()
		WHERE jobs.status IN ('completed', 'failed')`,
		j.ID, j.Type, j.ContractID, j.Status, j.MaxAttempts, j.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// Get loads one job by id.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*models.Job, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT id, type, contract_id, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		FROM jobs WHERE id = $1`, jobID)
	j := &models.Job{}
	if err := row.Scan(&j.ID, &j.Type, &j.ContractID, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.NextAttemptAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return j, nil
}

// ListReady returns up to limit jobs that are waiting or delayed and whose
// next_attempt_at has arrived, earliest first — the scheduler's dispatch
// source.
func (r *JobRepository) ListReady(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, type, contract_id, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		FROM jobs
		WHERE status IN ('waiting', 'delayed') AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListActive returns every job currently claimed by a worker.
func (r *JobRepository) ListActive(ctx context.Context) ([]*models.Job, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, type, contract_id, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		FROM jobs WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		j := &models.Job{}
		if err := rows.Scan(&j.ID, &j.Type, &j.ContractID, &j.Status, &j.Attempts, &j.MaxAttempts,
			&j.NextAttemptAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// HasInFlight reports whether a contract already has a non-terminal job of
// the given type, the at-most-one-in-flight-per-contract check the catch-up
// and stuck-recovery timers consult before acting.
func (r *JobRepository) HasInFlight(ctx context.Context, contractID uuid.UUID, jobType models.JobType) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM jobs
			WHERE contract_id = $1 AND type = $2 AND status IN ('waiting', 'delayed', 'active')
		)`, contractID, jobType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check in-flight job for %s: %w", contractID, err)
	}
	return exists, nil
}

// MarkActive claims a job for execution.
func (r *JobRepository) MarkActive(ctx context.Context, jobID string) error {
	_, err := r.db.Pool().Exec(ctx, `UPDATE jobs SET status = 'active', updated_at = now() WHERE id = $1`, jobID)
	return err
}

// MarkCompleted transitions a job to its terminal success state.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := r.db.Pool().Exec(ctx, `UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1`, jobID)
	return err
}

// MarkFailed transitions a job to its terminal failure state, recording why.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs SET status = 'failed', last_error = $2, updated_at = now() WHERE id = $1`, jobID, errMsg)
	return err
}

// Reschedule records a failed attempt and delays the job for its next
// retry, per §4.5's exponential backoff policy.
func (r *JobRepository) Reschedule(ctx context.Context, jobID string, attempts int, nextAttemptAt time.Time, errMsg string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs SET status = 'delayed', attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
		WHERE id = $1`, jobID, attempts, nextAttemptAt, errMsg)
	return err
}

// FailAllActive force-fails every job left claimed by a prior crashed
// worker, §4.5's startup reconciliation step, and reports how many it
// moved.
func (r *JobRepository) FailAllActive(ctx context.Context, reason string) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs SET status = 'failed', last_error = $1, updated_at = now() WHERE status = 'active'`, reason)
	if err != nil {
		return 0, fmt.Errorf("fail active jobs on startup: %w", err)
	}
	return tag.RowsAffected(), nil
}
