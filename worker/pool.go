package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// Admission gates jobs after reservation, per queue and kind. The pool
// calls Acquire before running a job and Release after it resolves.
type Admission interface {
	Acquire(queue, kind string) bool
	Release(queue, kind string)
}

// Pool runs one reservation loop over a single queue and executes jobs with
// bounded parallelism.
type Pool struct {
	store        job.Store
	executor     *Executor
	admission    Admission
	logger       *slog.Logger
	now          func() time.Time
	workerID     id.WorkerID
	queue        string
	concurrency  int
	pollInterval time.Duration
	reapInterval time.Duration
	reapGrace    time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}

	// hardCtx parents every handler context and is cancelled only when a
	// Stop deadline expires.
	hardCtx    context.Context
	hardCancel context.CancelFunc

	inFlight  atomic.Int32
	slotFreed chan struct{}
	activeMu  sync.Mutex
	active    map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueue sets the queue served. Defaults to "default".
func WithQueue(q string) PoolOption {
	return func(p *Pool) { p.queue = q }
}

// WithConcurrency sets the maximum number of simultaneously running jobs.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets the sleep after a reservation that found nothing.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithReaper enables recovery of expired reservations every interval.
// Records reserved longer than their timeout plus grace are returned to
// the queue or dead-lettered. A zero interval disables it.
func WithReaper(interval, grace time.Duration) PoolOption {
	return func(p *Pool) {
		p.reapInterval = interval
		p.reapGrace = grace
	}
}

// WithAdmission sets per-queue and per-kind admission limits.
func WithAdmission(a Admission) PoolOption {
	return func(p *Pool) { p.admission = a }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithPoolClock overrides the time used for reservations and reaping.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithWorkerID fixes the identity used to own reservations.
func WithWorkerID(w id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = w }
}

// NewPool creates a pool. It does nothing until Start or Run.
func NewPool(store job.Store, executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		logger:       slog.Default(),
		now:          time.Now,
		workerID:     id.NewWorkerID(),
		queue:        job.DefaultQueue,
		concurrency:  10,
		pollInterval: time.Second,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		slotFreed:    make(chan struct{}, 1),
		active:       make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// WorkerID returns the identity that owns this pool's reservations.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Queue returns the queue served.
func (p *Pool) Queue() string { return p.queue }

// InFlight returns the number of jobs currently executing.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Start launches the reservation loop and returns. Calling it again, or
// after Stop, is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return nil
	}
	p.started = true

	base := context.WithoutCancel(ctx)
	p.hardCtx, p.hardCancel = context.WithCancel(base)

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.String("queue", p.queue),
		slog.Int("concurrency", p.concurrency),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.loop(base)
	}()
	if p.reapInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.reapLoop(base)
		}()
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return nil
}

// Run starts the pool and blocks until ctx is cancelled or Stop is called.
// On cancellation it drains in-flight jobs for at most drain before
// cancelling them.
func (p *Pool) Run(ctx context.Context, drain time.Duration) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
		defer cancel()
		return p.Stop(sctx)
	case <-p.done:
		return nil
	}
}

// Stop stops reserving immediately and waits for in-flight jobs to resolve.
// When ctx ends first, their handler contexts are cancelled and Stop waits
// for resolution to finish. Stop is idempotent.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		<-p.doneOrClosed()
		return nil
	}
	p.stopped = true
	started := p.started
	close(p.stopCh)
	p.mu.Unlock()

	if !started {
		return nil
	}

	p.logger.Info("worker pool stopping",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("in_flight", p.InFlight()),
	)

	select {
	case <-p.done:
		p.logger.Info("worker pool stopped", slog.String("queue", p.queue))
	case <-ctx.Done():
		p.logger.Warn("worker pool drain timed out, cancelling active jobs", slog.String("queue", p.queue))
		p.cancelActive()
		<-p.done
	}
	p.hardCancel()
	return nil
}

func (p *Pool) doneOrClosed() <-chan struct{} {
	if !p.started {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// loop is the single control loop: reserve free slots, hand jobs to the
// group, sleep when idle.
func (p *Pool) loop(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		free := p.concurrency - p.InFlight()
		if free <= 0 {
			select {
			case <-p.slotFreed:
			case <-p.stopCh:
				return
			}
			continue
		}

		jobs, err := p.store.Reserve(ctx, p.queue, p.now().UTC(), free, p.workerID)
		if err != nil {
			p.logger.Error("reserve failed",
				slog.String("queue", p.queue),
				slog.String("error", err.Error()),
			)
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		admitted := 0
		for _, j := range jobs {
			if p.admission != nil && !p.admission.Acquire(j.Queue, j.Kind) {
				p.requeue(ctx, j)
				continue
			}
			admitted++
			p.inFlight.Add(1)
			g.Go(func() error {
				p.execute(j)
				return nil
			})
		}
		if admitted == 0 {
			p.sleep()
		}
	}
}

func (p *Pool) execute(j *job.Job) {
	key := j.ID.String()
	jctx, cancel := context.WithCancel(p.hardCtx)
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()

	defer func() {
		p.activeMu.Lock()
		delete(p.active, key)
		p.activeMu.Unlock()
		cancel()

		if p.admission != nil {
			p.admission.Release(j.Queue, j.Kind)
		}
		p.inFlight.Add(-1)
		select {
		case p.slotFreed <- struct{}{}:
		default:
		}
	}()

	if err := p.executor.Execute(jctx, j, p.workerID); err != nil {
		p.logger.Debug("job attempt returned error",
			slog.String("job_id", key),
			slog.String("kind", j.Kind),
			slog.String("error", err.Error()),
		)
	}
}

// requeue hands a reserved job back when admission refused it. The attempt
// was never started, so nothing is counted.
func (p *Pool) requeue(ctx context.Context, j *job.Job) {
	if err := p.store.Release(ctx, j.ID, p.workerID, p.pollInterval); err != nil {
		p.logger.Error("failed to return throttled job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Reap(ctx)
		}
	}
}

// Reap recovers expired reservations once. The pool calls it on its reap
// interval; it is exported for tests and admin tooling.
func (p *Pool) Reap(ctx context.Context) int {
	reaped, err := p.store.ReapExpired(ctx, p.now().UTC(), p.reapGrace)
	if err != nil {
		p.logger.Error("reap expired reservations failed", slog.String("error", err.Error()))
		return 0
	}
	for _, j := range reaped {
		p.executor.Reaped(ctx, j)
	}
	return len(reaped)
}

func (p *Pool) sleep() {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", key))
		cancel()
	}
}
