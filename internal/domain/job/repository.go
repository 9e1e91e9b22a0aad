package job

import (
	"context"
	"time"
)

// AggregateStatus is the combined state of all jobs belonging to one
// owner reference. Billing flips a subscription to active only when
// AllCompleted holds.
type AggregateStatus struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// AllCompleted reports whether every job for the owner finished
// successfully and at least one job exists.
func (s AggregateStatus) AllCompleted() bool {
	return s.Completed > 0 && s.Pending == 0 && s.Active == 0 && s.Failed == 0
}

// Repository is the durable job record store.
type Repository interface {
	// Enqueue persists a new pending job.
	Enqueue(ctx context.Context, j *Job) error

	// Claim atomically transitions one job from pending to active.
	// It returns nil without error when the job is not claimable
	// (already claimed, finished, or scheduled for later).
	Claim(ctx context.Context, jobID int64) (*Job, error)

	// ClaimNext claims the oldest due pending job of a type. Safe
	// under concurrent callers; returns nil when none are due.
	ClaimNext(ctx context.Context, jobType Type) (*Job, error)

	// MarkCompleted finalizes an active job with its result payload.
	MarkCompleted(ctx context.Context, jobID int64, result []byte) error

	// MarkFailed increments attempts and either schedules a fresh
	// pending retry copy (returned non-nil) or finalizes the job as
	// failed. Non-retryable causes finalize immediately.
	MarkFailed(ctx context.Context, j *Job, cause error, retryable bool) (*Job, error)

	// GetByID returns a job record, nil when absent.
	GetByID(ctx context.Context, jobID int64) (*Job, error)

	// CountByOwner aggregates job statuses for one owner reference.
	CountByOwner(ctx context.Context, ownerRef string) (AggregateStatus, error)

	// ListStalePending returns due pending jobs untouched since the
	// cutoff, for re-publication after queue loss.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Job, error)
}

// Queue is the transport that wakes workers without polling the jobs
// table. One logical FIFO list per job type; no ordering across types.
type Queue interface {
	// Push appends a job id to the ready list of its type.
	Push(ctx context.Context, jobType Type, jobID int64) error

	// PushDelayed parks a job id until runAt, then MoveDue promotes it.
	PushDelayed(ctx context.Context, jobType Type, jobID int64, runAt time.Time) error

	// Pop blocks up to timeout and returns 0 when nothing arrived,
	// letting workers poll for shutdown without busy-looping.
	Pop(ctx context.Context, jobType Type, timeout time.Duration) (int64, error)

	// MoveDue promotes delayed job ids whose time has come.
	MoveDue(ctx context.Context, jobType Type, now time.Time, batch int64) error
}

// Enqueuer is the narrow surface provisioners use to emit downstream
// jobs without reaching into the orchestrator.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType Type, tenantID int64, ownerRef string, spec any) (int64, error)
}
