package storage

import (
	"testing"
	"time"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

func TestJobRepository_EnqueueAndGet(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewJobRepository(db)
	job := &models.Job{
		ID:            models.IdempotencyKey(models.JobSync, &contractID),
		Type:          models.JobSync,
		ContractID:    &contractID,
		Status:        models.JobWaiting,
		MaxAttempts:   3,
		NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	got, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected job to be found after Enqueue")
	}
	if got.Status != models.JobWaiting {
		t.Errorf("expected status waiting, got %s", got.Status)
	}
}

func TestJobRepository_EnqueueRejectsNonTerminalReplace(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewJobRepository(db)
	jobID := models.IdempotencyKey(models.JobSync, &contractID)

	first := &models.Job{
		ID: jobID, Type: models.JobSync, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 3, NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue() first error = %v", err)
	}

	replacement := &models.Job{
		ID: jobID, Type: models.JobSync, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 5, NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, replacement); err != nil {
		t.Fatalf("Enqueue() replacement error = %v", err)
	}

	got, err := repo.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("expected non-terminal job to be left untouched (max_attempts=3), got %d", got.MaxAttempts)
	}
}

func TestJobRepository_EnqueueReplacesTerminalJob(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewJobRepository(db)
	jobID := models.IdempotencyKey(models.JobSync, &contractID)

	first := &models.Job{
		ID: jobID, Type: models.JobSync, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 3, NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue() first error = %v", err)
	}
	if err := repo.MarkCompleted(ctx, jobID); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	replacement := &models.Job{
		ID: jobID, Type: models.JobSync, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 7, NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, replacement); err != nil {
		t.Fatalf("Enqueue() replacement error = %v", err)
	}

	got, err := repo.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.JobWaiting {
		t.Errorf("expected terminal job to be replaced back to waiting, got %s", got.Status)
	}
	if got.MaxAttempts != 7 {
		t.Errorf("expected replacement max_attempts 7, got %d", got.MaxAttempts)
	}
}

func TestJobRepository_ListReadyAndListActive(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewJobRepository(db)
	jobID := models.IdempotencyKey(models.JobDiscover, &contractID)
	job := &models.Job{
		ID: jobID, Type: models.JobDiscover, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 3, NextAttemptAt: time.Now().Add(-time.Minute),
	}
	if err := repo.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ready, err := repo.ListReady(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListReady() error = %v", err)
	}
	foundReady := false
	for _, j := range ready {
		if j.ID == jobID {
			foundReady = true
		}
	}
	if !foundReady {
		t.Error("expected waiting job with past next_attempt_at to be ready")
	}

	if err := repo.MarkActive(ctx, jobID); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	foundActive := false
	for _, j := range active {
		if j.ID == jobID {
			foundActive = true
		}
	}
	if !foundActive {
		t.Error("expected claimed job to appear in ListActive")
	}
}

func TestJobRepository_HasInFlight(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewJobRepository(db)

	before, err := repo.HasInFlight(ctx, contractID, models.JobSync)
	if err != nil {
		t.Fatalf("HasInFlight() error = %v", err)
	}
	if before {
		t.Error("expected no in-flight job before enqueue")
	}

	job := &models.Job{
		ID: models.IdempotencyKey(models.JobSync, &contractID), Type: models.JobSync, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 3, NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	after, err := repo.HasInFlight(ctx, contractID, models.JobSync)
	if err != nil {
		t.Fatalf("HasInFlight() error = %v", err)
	}
	if !after {
		t.Error("expected in-flight job after enqueue")
	}
}

func TestJobRepository_MarkFailedAndReschedule(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewJobRepository(db)
	jobID := models.IdempotencyKey(models.JobSync, &contractID)
	job := &models.Job{
		ID: jobID, Type: models.JobSync, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 3, NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	next := time.Now().Add(time.Minute)
	if err := repo.Reschedule(ctx, jobID, 1, next, "rpc timeout"); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	got, err := repo.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.JobDelayed || got.Attempts != 1 {
		t.Errorf("expected delayed status with 1 attempt, got status=%s attempts=%d", got.Status, got.Attempts)
	}
	if got.LastError == nil || *got.LastError != "rpc timeout" {
		t.Errorf("expected last_error to be recorded, got %v", got.LastError)
	}

	if err := repo.MarkFailed(ctx, jobID, "exceeded max attempts"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	got, err = repo.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.JobFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
}

func TestJobRepository_FailAllActive(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewJobRepository(db)
	jobID := models.IdempotencyKey(models.JobDiscover, &contractID)
	job := &models.Job{
		ID: jobID, Type: models.JobDiscover, ContractID: &contractID,
		Status: models.JobWaiting, MaxAttempts: 3, NextAttemptAt: time.Now(),
	}
	if err := repo.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := repo.MarkActive(ctx, jobID); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}

	n, err := repo.FailAllActive(ctx, "worker restarted")
	if err != nil {
		t.Fatalf("FailAllActive() error = %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least 1 job failed, got %d", n)
	}

	got, err := repo.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.JobFailed {
		t.Errorf("expected status failed after FailAllActive, got %s", got.Status)
	}
}
