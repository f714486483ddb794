package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

type named[H any] struct {
	name string
	hook H
}

func collect[H any](dst []named[H], e Extension) []named[H] {
	if h, ok := e.(H); ok {
		return append(dst, named[H]{name: e.Name(), hook: h})
	}
	return dst
}

// Registry fans lifecycle events out to registered extensions.
type Registry struct {
	logger *slog.Logger

	mu            sync.RWMutex
	extensions    []Extension
	enqueued      []named[JobEnqueued]
	started       []named[JobStarted]
	succeeded     []named[JobSucceeded]
	released      []named[JobReleased]
	deleted       []named[JobDeleted]
	retrying      []named[JobRetrying]
	dead          []named[JobDead]
	scheduleFired []named[ScheduleFired]
	shutdown      []named[Shutdown]
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds e and caches the hooks it implements.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	r.enqueued = collect(r.enqueued, e)
	r.started = collect(r.started, e)
	r.succeeded = collect(r.succeeded, e)
	r.released = collect(r.released, e)
	r.deleted = collect(r.deleted, e)
	r.retrying = collect(r.retrying, e)
	r.dead = collect(r.dead, e)
	r.scheduleFired = collect(r.scheduleFired, e)
	r.shutdown = collect(r.shutdown, e)
}

// Extensions returns the registered extensions in registration order.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

func emit[H any](r *Registry, hooks []named[H], event string, call func(H) error) {
	for _, h := range hooks {
		if err := call(h.hook); err != nil {
			r.logger.Warn("extension hook failed",
				slog.String("hook", event),
				slog.String("extension", h.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func snapshot[H any](r *Registry, hooks *[]named[H]) []named[H] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies JobEnqueued hooks.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	emit(r, snapshot(r, &r.enqueued), "OnJobEnqueued", func(h JobEnqueued) error {
		return h.OnJobEnqueued(ctx, j)
	})
}

// EmitJobStarted notifies JobStarted hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, snapshot(r, &r.started), "OnJobStarted", func(h JobStarted) error {
		return h.OnJobStarted(ctx, j)
	})
}

// EmitJobSucceeded notifies JobSucceeded hooks.
func (r *Registry) EmitJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, snapshot(r, &r.succeeded), "OnJobSucceeded", func(h JobSucceeded) error {
		return h.OnJobSucceeded(ctx, j, elapsed)
	})
}

// EmitJobReleased notifies JobReleased hooks.
func (r *Registry) EmitJobReleased(ctx context.Context, j *job.Job, delay time.Duration) {
	emit(r, snapshot(r, &r.released), "OnJobReleased", func(h JobReleased) error {
		return h.OnJobReleased(ctx, j, delay)
	})
}

// EmitJobDeleted notifies JobDeleted hooks.
func (r *Registry) EmitJobDeleted(ctx context.Context, j *job.Job) {
	emit(r, snapshot(r, &r.deleted), "OnJobDeleted", func(h JobDeleted) error {
		return h.OnJobDeleted(ctx, j)
	})
}

// EmitJobRetrying notifies JobRetrying hooks.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) {
	emit(r, snapshot(r, &r.retrying), "OnJobRetrying", func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, attempt, nextAt)
	})
}

// EmitJobDead notifies JobDead hooks.
func (r *Registry) EmitJobDead(ctx context.Context, j *job.Job, err error) {
	emit(r, snapshot(r, &r.dead), "OnJobDead", func(h JobDead) error {
		return h.OnJobDead(ctx, j, err)
	})
}

// EmitScheduleFired notifies ScheduleFired hooks.
func (r *Registry) EmitScheduleFired(ctx context.Context, name string, jobID id.JobID) {
	emit(r, snapshot(r, &r.scheduleFired), "OnScheduleFired", func(h ScheduleFired) error {
		return h.OnScheduleFired(ctx, name, jobID)
	})
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, snapshot(r, &r.shutdown), "OnShutdown", func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}
