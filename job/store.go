package job

import (
	"context"
	"time"

	"github.com/xraph/taskq/id"
)

// ListOpts filters and paginates job listings.
type ListOpts struct {
	Queue  string
	Status Status
	Kind   string
	Limit  int
	Offset int
}

// CountOpts filters job counts.
type CountOpts struct {
	Queue  string
	Status Status
}

// Store is the durable home of job records. Every operation is atomic with
// respect to every other, across processes. Implementations return
// taskq.ErrJobNotFound for unknown ids and taskq.ErrInvalidState for
// transitions the status machine forbids.
type Store interface {
	// Enqueue persists a new record. The caller fills every field.
	Enqueue(ctx context.Context, j *Job) error

	// Reserve atomically claims up to limit due records from queue,
	// ordered by AvailableAt then CreatedAt, and hands each to exactly one
	// caller. Claimed records become reserved by workerID at now.
	Reserve(ctx context.Context, queue string, now time.Time, limit int, workerID id.WorkerID) ([]*Job, error)

	// MarkRunning moves a reserved record owned by workerID to running and
	// increments Attempts. It fails with taskq.ErrConcurrencyViolation if
	// the record is owned by someone else, and with taskq.ErrBudgetSpent if
	// the increment would exceed MaxAttempts.
	MarkRunning(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*Job, error)

	// Ack marks the record succeeded. Ack, Release, Retry, Kill and Delete
	// only touch a record that is reserved or running: they fail with
	// taskq.ErrInvalidState otherwise, and with
	// taskq.ErrConcurrencyViolation when workerID is not the owner.
	Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// Release returns an owned record to pending with AvailableAt moved to
	// max(current, now+delay). An attempt counted by MarkRunning is rolled
	// back.
	Release(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) error

	// Retry records a failed attempt: status failed_retrying, AvailableAt
	// moved to max(current, now+delay) and LastError stored.
	Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error

	// Kill moves an owned record to dead.
	Kill(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lastErr string) error

	// Cancel moves a pending or failed_retrying record to dead in one
	// conditional step. Any other status yields taskq.ErrInvalidState.
	Cancel(ctx context.Context, jobID id.JobID, reason string) error

	// Delete removes an owned record.
	Delete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// Get returns a snapshot of the record.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListDue returns reservable records with AvailableAt <= cutoff,
	// without claiming them.
	ListDue(ctx context.Context, cutoff time.Time, opts ListOpts) ([]*Job, error)

	// List returns records matching opts, newest first.
	List(ctx context.Context, opts ListOpts) ([]*Job, error)

	// Count returns the number of records matching opts.
	Count(ctx context.Context, opts CountOpts) (int64, error)

	// HasOutstanding reports whether a non-terminal record tagged with
	// schedule exists.
	HasOutstanding(ctx context.Context, schedule string) (bool, error)

	// ReapExpired recovers owned records whose reservation outlived
	// Timeout+grace: to failed_retrying when budget remains, otherwise to
	// dead. It returns the recovered records in their new state.
	ReapExpired(ctx context.Context, now time.Time, grace time.Duration) ([]*Job, error)
}
