package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/backoff"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/middleware"
)

// Executor runs one reserved job and resolves its attempt.
type Executor struct {
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	dlq        *dlq.Service
	policy     backoff.Policy
	mw         []middleware.Middleware
	chain      middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time

	storeRetryBase time.Duration
	resolveTimeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) ExecutorOption {
	return func(e *Executor) { e.extensions = r }
}

// WithDLQ sets the service that receives killed jobs.
func WithDLQ(s *dlq.Service) ExecutorOption {
	return func(e *Executor) { e.dlq = s }
}

// WithPolicy sets the retry backoff policy.
func WithPolicy(p backoff.Policy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithMiddleware appends middleware around every handler call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = append(e.mw, mws...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithStoreRetry sets the first delay between attempts of a failing store
// operation and how long resolution keeps trying.
func WithStoreRetry(base, deadline time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.storeRetryBase = base
		e.resolveTimeout = deadline
	}
}

// NewExecutor creates an Executor.
func NewExecutor(store job.Store, registry *job.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:          store,
		registry:       registry,
		policy:         backoff.Default(),
		logger:         slog.Default(),
		now:            time.Now,
		storeRetryBase: 100 * time.Millisecond,
		resolveTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(e.logger)
	}
	// Recover sits innermost so panics surface as ordinary failures to
	// every other middleware.
	e.chain = middleware.Chain(append(e.mw, middleware.Recover(e.logger))...)
	return e
}

// Execute runs a job reserved by workerID. ctx bounds the handler; store
// resolution outlives its cancellation up to the resolve deadline. The
// returned error is the handler's, or a *taskq.PersistenceError when the
// attempt could not be recorded.
func (e *Executor) Execute(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.resolveTimeout)
	defer cancel()

	entry, ok := e.registry.Lookup(j.Kind)
	if !ok {
		return e.kill(rctx, j, workerID, fmt.Errorf("%w: %q", taskq.ErrUnknownKind, j.Kind))
	}
	payload, err := entry.Decode(j.Payload)
	if err != nil {
		return e.kill(rctx, j, workerID, fmt.Errorf("%w: %v", taskq.ErrSerialization, err))
	}
	if !j.BudgetLeft() {
		return e.kill(rctx, j, workerID, taskq.ErrBudgetSpent)
	}

	running, err := e.store.MarkRunning(rctx, j.ID, workerID)
	switch {
	case errors.Is(err, taskq.ErrBudgetSpent):
		return e.kill(rctx, j, workerID, err)
	case errors.Is(err, taskq.ErrConcurrencyViolation):
		e.logger.Error("reserved job owned by another worker",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", workerID.String()),
		)
		return err
	case err != nil:
		// The reservation stays; the reaper returns the job once it expires.
		e.logger.Error("failed to mark job running",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return taskq.Persistence("mark_running", err)
	}

	e.extensions.EmitJobStarted(ctx, running)

	start := time.Now()
	runErr := e.run(ctx, running, entry, payload)
	elapsed := time.Since(start)

	return e.resolve(rctx, running, workerID, runErr, elapsed)
}

// run races the middleware chain against the job's timeout.
func (e *Executor) run(ctx context.Context, j *job.Job, entry *job.Entry, payload any) error {
	actx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.chain(actx, j, func(hctx context.Context) error {
			return entry.Handle(hctx, payload)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", taskq.ErrTimeout, j.Timeout)
		}
		return fmt.Errorf("attempt cancelled: %w", ctx.Err())
	}
}

func (e *Executor) resolve(ctx context.Context, j *job.Job, workerID id.WorkerID, runErr error, elapsed time.Duration) error {
	out := job.OutcomeOf(runErr)

	switch out.Kind {
	case job.OutcomeSuccess:
		if err := e.persist(ctx, "ack", j, func(ctx context.Context) error {
			return e.store.Ack(ctx, j.ID, workerID)
		}); err != nil {
			return err
		}
		e.extensions.EmitJobSucceeded(ctx, j, elapsed)
		return nil

	case job.OutcomeRelease:
		if err := e.persist(ctx, "release", j, func(ctx context.Context) error {
			return e.store.Release(ctx, j.ID, workerID, out.Delay)
		}); err != nil {
			return err
		}
		e.extensions.EmitJobReleased(ctx, j, out.Delay)
		return nil

	case job.OutcomeDelete:
		if err := e.persist(ctx, "delete", j, func(ctx context.Context) error {
			return e.store.Delete(ctx, j.ID, workerID)
		}); err != nil {
			return err
		}
		e.extensions.EmitJobDeleted(ctx, j)
		return nil

	case job.OutcomeDead:
		if err := e.kill(ctx, j, workerID, out.Err); err != nil && taskq.IsPersistence(err) {
			return err
		}
		return runErr
	}

	if backoff.Decide(j.Attempts, j.MaxAttempts) == backoff.Dead {
		if err := e.kill(ctx, j, workerID, runErr); err != nil && taskq.IsPersistence(err) {
			return err
		}
		return runErr
	}

	delay := e.policy.Delay(j.Attempts, j.Backoff)
	if err := e.persist(ctx, "retry", j, func(ctx context.Context) error {
		return e.store.Retry(ctx, j.ID, workerID, delay, runErr.Error())
	}); err != nil {
		return err
	}
	j.LastError = runErr.Error()
	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, e.now().Add(delay))
	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", j.Kind),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)
	return runErr
}

// kill moves j to dead and reports it. It returns cause, or the store's
// error if it never accepted the transition.
func (e *Executor) kill(ctx context.Context, j *job.Job, workerID id.WorkerID, cause error) error {
	if err := e.persist(ctx, "kill", j, func(ctx context.Context) error {
		return e.store.Kill(ctx, j.ID, workerID, cause.Error())
	}); err != nil {
		return err
	}
	j.Status = job.StatusDead
	j.LastError = cause.Error()
	e.deadLetter(ctx, j, cause)
	return cause
}

// deadLetter pushes an already dead job to the DLQ and reports it.
func (e *Executor) deadLetter(ctx context.Context, j *job.Job, cause error) {
	if e.dlq != nil {
		if _, err := e.dlq.Push(ctx, j, cause); err != nil {
			e.logger.Error("failed to push job to dead-letter queue",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	e.extensions.EmitJobDead(ctx, j, cause)
	e.logger.Warn("job dead-lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", j.Kind),
		slog.Int("attempts", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.String("last_error", cause.Error()),
	)
}

// Reaped reports a record recovered from an expired reservation.
func (e *Executor) Reaped(ctx context.Context, j *job.Job) {
	if j.Status == job.StatusDead {
		e.deadLetter(ctx, j, errors.New(j.LastError))
		return
	}
	e.logger.Warn("recovered expired reservation",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", j.Kind),
		slog.Int("attempts", j.Attempts),
	)
	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, j.AvailableAt)
}

// persist runs a store operation, retrying transient failures until ctx
// ends. State errors are returned at once: the record moved on without us.
func (e *Executor) persist(ctx context.Context, op string, j *job.Job, fn func(context.Context) error) error {
	var final error
	err := backoff.Do(ctx, backoff.Policy{Mode: backoff.Exponential, Max: 5 * time.Second}, e.storeRetryBase,
		func(ctx context.Context) error {
			err := fn(ctx)
			if err != nil && !transient(err) {
				final = err
				return nil
			}
			return err
		},
		func(attempt int, err error) {
			e.logger.Error("store operation failed",
				slog.String("op", op),
				slog.String("job_id", j.ID.String()),
				slog.Int("try", attempt),
				slog.String("error", err.Error()),
			)
		},
	)
	if err == nil {
		err = final
	}
	if err == nil {
		return nil
	}
	if transient(err) {
		return taskq.Persistence(op, err)
	}
	e.logger.Warn("store rejected attempt resolution",
		slog.String("op", op),
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
	return err
}

func transient(err error) bool {
	return !errors.Is(err, taskq.ErrJobNotFound) &&
		!errors.Is(err, taskq.ErrInvalidState) &&
		!errors.Is(err, taskq.ErrConcurrencyViolation)
}
