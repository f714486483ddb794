// Package dispatcher is the producer side of taskq: it turns a kind and a
// payload into a durably persisted pending job.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// Dispatcher enqueues jobs. It is safe for concurrent use.
type Dispatcher struct {
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
	strict     bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExtensions sets the registry notified after each enqueue.
func WithExtensions(r *ext.Registry) Option {
	return func(d *Dispatcher) { d.extensions = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the time source used for CreatedAt and AvailableAt.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithStrictKinds rejects kinds missing from the registry with
// taskq.ErrUnknownKind instead of enqueueing them with package defaults.
func WithStrictKinds() Option {
	return func(d *Dispatcher) { d.strict = true }
}

// New creates a Dispatcher over store. registry supplies per-kind defaults
// and encoders; it may be nil.
func New(store job.Store, registry *job.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.registry == nil {
		d.registry = job.NewRegistry()
	}
	if d.extensions == nil {
		d.extensions = ext.NewRegistry(d.logger)
	}
	return d
}

// Dispatch encodes payload with the kind's codec and enqueues a pending
// job. It returns once the store accepted the record; the job has not run.
// Encode failures wrap taskq.ErrSerialization and store failures are
// returned as *taskq.PersistenceError.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, payload any, opts ...job.Option) (id.JobID, error) {
	j, err := d.Build(kind, payload, opts...)
	if err != nil {
		return id.Nil, err
	}
	if err := d.Enqueue(ctx, j); err != nil {
		return id.Nil, err
	}
	return j.ID, nil
}

// DispatchRaw enqueues an already encoded payload.
func (d *Dispatcher) DispatchRaw(ctx context.Context, kind string, payload []byte, opts ...job.Option) (id.JobID, error) {
	return d.Dispatch(ctx, kind, payload, opts...)
}

// Build resolves options and encodes payload into a pending record without
// persisting it.
func (d *Dispatcher) Build(kind string, payload any, opts ...job.Option) (*job.Job, error) {
	if kind == "" {
		return nil, fmt.Errorf("dispatcher: empty kind")
	}

	base := job.DefaultOptions()
	var encode func(any) ([]byte, error)
	if entry, ok := d.registry.Lookup(kind); ok {
		base = entry.Opts
		encode = entry.Encode
	} else if d.strict {
		return nil, fmt.Errorf("%w: %q", taskq.ErrUnknownKind, kind)
	}

	o := base.Apply(opts...)
	if encode == nil {
		encode = rawOr(o.Codec)
	}

	data, err := encode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", taskq.ErrSerialization, kind, err)
	}

	now := d.now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Kind:        kind,
		Queue:       o.Queue,
		Payload:     data,
		Status:      job.StatusPending,
		MaxAttempts: o.MaxAttempts,
		Timeout:     o.Timeout,
		Backoff:     o.Backoff,
		AvailableAt: o.FirstAvailable(now).UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Schedule:    o.Schedule,
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("dispatcher: build %s: %w", kind, err)
	}
	return j, nil
}

// Enqueue persists a record produced by Build and notifies extensions.
func (d *Dispatcher) Enqueue(ctx context.Context, j *job.Job) error {
	if err := d.store.Enqueue(ctx, j); err != nil {
		return taskq.Persistence("enqueue", err)
	}

	d.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", j.Kind),
		slog.String("queue", j.Queue),
		slog.Time("available_at", j.AvailableAt),
	)
	d.extensions.EmitJobEnqueued(ctx, j)
	return nil
}

func rawOr(c job.Codec) func(any) ([]byte, error) {
	return func(v any) ([]byte, error) {
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		return c.Marshal(v)
	}
}
