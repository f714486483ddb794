package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/cluster"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// LeaseKey is the cluster lease held by the firing scheduler.
const LeaseKey = "taskq:scheduler"

// Dispatcher enqueues the jobs a definition produces. *dispatcher.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, payload any, opts ...job.Option) (id.JobID, error)
}

// OutstandingStore answers the overlap question. job.Store satisfies it.
type OutstandingStore interface {
	HasOutstanding(ctx context.Context, schedule string) (bool, error)
}

// Emitter emits schedule lifecycle events. *ext.Registry satisfies it.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, name string, jobID id.JobID)
}

// Fired records one dispatch made by a tick.
type Fired struct {
	Name  string
	JobID id.JobID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick interval. Defaults to one minute.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLeases makes the scheduler fire only while it holds the cluster lease.
func WithLeases(store cluster.Store) Option {
	return func(s *Scheduler) { s.leases = store }
}

// WithLeaseTTL sets how long a held lease lasts without renewal. Defaults
// to three tick intervals.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.leaseTTL = d }
}

// WithEmitter sets the receiver of schedule-fired events.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithOwner fixes the identity used for the lease.
func WithOwner(w id.WorkerID) Option {
	return func(s *Scheduler) { s.owner = w }
}

// Scheduler fires registered definitions on a tick loop.
type Scheduler struct {
	dispatcher  Dispatcher
	outstanding OutstandingStore
	leases      cluster.Store
	emitter     Emitter
	logger      *slog.Logger
	now         func() time.Time
	owner       id.WorkerID
	interval    time.Duration
	leaseTTL    time.Duration

	mu      sync.Mutex
	entries []*Entry
	byName  map[string]*Entry

	runMu   sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a Scheduler. outstanding may be nil, in which case only
// definitions with AllowOverlap behave as documented and every other
// definition fires on time regardless of earlier runs.
func New(d Dispatcher, outstanding OutstandingStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		dispatcher:  d,
		outstanding: outstanding,
		logger:      slog.Default(),
		now:         time.Now,
		owner:       id.NewWorkerID(),
		interval:    time.Minute,
		byName:      make(map[string]*Entry),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = 3 * s.interval
	}
	return s
}

// Register adds a definition. Names are unique.
func (s *Scheduler) Register(def Definition) error {
	e, err := NewEntry(def, s.now().UTC())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[def.Name]; exists {
		return fmt.Errorf("%w: %s", taskq.ErrDuplicateSchedule, def.Name)
	}
	s.byName[def.Name] = e
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a snapshot of the registered definitions and their state.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// Owner returns the lease identity.
func (s *Scheduler) Owner() id.WorkerID { return s.owner }

// RunOnce evaluates every definition at now and dispatches the due ones.
// A failing definition is logged and left for the next tick; it never
// stops the others.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) []Fired {
	s.mu.Lock()
	defer s.mu.Unlock()

	busy := s.lookupOutstanding(ctx, now)
	var fired []Fired
	for _, e := range Plan(now, s.entries, func(name string) bool { return busy[name] }) {
		jobID, err := s.fire(ctx, e, now)
		if err != nil {
			s.logger.Error("schedule dispatch failed",
				slog.String("schedule", e.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.LastRunAt = now
		fired = append(fired, Fired{Name: e.Name, JobID: jobID})

		if s.emitter != nil {
			s.emitter.EmitScheduleFired(ctx, e.Name, jobID)
		}
		s.logger.Info("schedule fired",
			slog.String("schedule", e.Name),
			slog.String("job_id", jobID.String()),
		)
	}
	return fired
}

// lookupOutstanding asks the store only about entries whose time has come.
// Lookup failures count as outstanding so nothing fires blind.
func (s *Scheduler) lookupOutstanding(ctx context.Context, now time.Time) map[string]bool {
	busy := make(map[string]bool)
	if s.outstanding == nil {
		return busy
	}
	for _, e := range s.entries {
		if e.AllowOverlap || !e.Due(now) {
			continue
		}
		has, err := s.outstanding.HasOutstanding(ctx, e.Name)
		if err != nil {
			s.logger.Error("schedule overlap check failed",
				slog.String("schedule", e.Name),
				slog.String("error", err.Error()),
			)
			busy[e.Name] = true
			continue
		}
		if has {
			s.logger.Debug("schedule skipped, previous run outstanding", slog.String("schedule", e.Name))
		}
		busy[e.Name] = has
	}
	return busy
}

func (s *Scheduler) fire(ctx context.Context, e *Entry, now time.Time) (jobID id.JobID, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: %s: factory panicked: %v", e.Name, r)
		}
	}()

	tmpl, err := e.Factory(ctx, now)
	if err != nil {
		return id.Nil, fmt.Errorf("schedule: %s: factory: %w", e.Name, err)
	}
	opts := append(append([]job.Option(nil), tmpl.Opts...), job.WithSchedule(e.Name))
	return s.dispatcher.Dispatch(ctx, tmpl.Kind, tmpl.Payload, opts...)
}

// ──────────────────────────────────────────────────
// Loop
// ──────────────────────────────────────────────────

// Start launches the tick loop and returns. It is a no-op when already
// started or stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	s.started = true

	go s.loop(context.WithoutCancel(ctx))
	s.logger.Info("scheduler started",
		slog.String("owner", s.owner.String()),
		slog.Duration("interval", s.interval),
	)
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.runMu.Lock()
	stopped := s.stopped && !s.started
	s.runMu.Unlock()
	if stopped {
		return nil
	}
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return s.Stop(context.WithoutCancel(ctx))
}

// Stop ends the tick loop, waiting for a running tick to finish, and gives
// up the lease. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if s.stopped {
		s.runMu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	close(s.stopCh)
	s.runMu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.leases != nil {
		if err := s.leases.ReleaseLease(ctx, LeaseKey, s.owner); err != nil {
			s.logger.Warn("release scheduler lease failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.leases != nil {
		held, err := s.leases.AcquireLease(ctx, LeaseKey, s.owner, s.leaseTTL)
		if err != nil {
			s.logger.Warn("scheduler lease error", slog.String("error", err.Error()))
			return
		}
		if !held {
			return
		}
	}
	s.RunOnce(ctx, s.now().UTC())
}
