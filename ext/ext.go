package ext

import (
	"context"
	"time"

	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// Extension is the base interface all extensions implement.
type Extension interface {
	Name() string
}

// JobEnqueued is called after the dispatcher persisted a job.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called after a job entered running, before its handler.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a successful attempt was acknowledged.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobReleased is called after a handler released its job.
type JobReleased interface {
	OnJobReleased(ctx context.Context, j *job.Job, delay time.Duration) error
}

// JobDeleted is called after a handler asked for its job to be removed.
type JobDeleted interface {
	OnJobDeleted(ctx context.Context, j *job.Job) error
}

// JobRetrying is called after a failed attempt was scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) error
}

// JobDead is called after a job was dead-lettered.
type JobDead interface {
	OnJobDead(ctx context.Context, j *job.Job, err error) error
}

// ScheduleFired is called after a recurring definition dispatched a job.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, name string, jobID id.JobID) error
}

// Shutdown is called once during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
