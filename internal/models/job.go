package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType is one of the three work kinds the scheduler dispatches.
type JobType string

const (
	JobDiscover  JobType = "discover"
	JobSync      JobType = "sync"
	JobAggregate JobType = "aggregate"
)

// JobStatus is a job's position in its lifecycle.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobDelayed   JobStatus = "delayed"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of scheduled work. Unique on ID, the idempotency key that
// lets a re-enqueue of a still-pending job be rejected as a no-op while a
// terminal job is replaced outright.
type Job struct {
	ID            string     `db:"id"`
	Type          JobType    `db:"type"`
	ContractID    *uuid.UUID `db:"contract_id"`
	Status        JobStatus  `db:"status"`
	Attempts      int        `db:"attempts"`
	MaxAttempts   int        `db:"max_attempts"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	LastError     *string    `db:"last_error"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// IdempotencyKey builds a job's id from its type and, for per-contract job
// types, the contract it targets. Aggregate jobs share the single key
// "aggregate" regardless of payload, enforcing one in-flight sweep at a
// time across the whole system.
func IdempotencyKey(t JobType, contractID *uuid.UUID) string {
	switch t {
	case JobDiscover:
		return "discover-" + contractID.String()
	case JobSync:
		return "sync-" + contractID.String()
	default:
		return "aggregate"
	}
}

// Terminal reports whether a job's status is one it no longer transitions
// out of on its own.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}
