package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/backoff"
	"github.com/xraph/taskq/dispatcher"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	mw "github.com/xraph/taskq/middleware"
	"github.com/xraph/taskq/observability"
	"github.com/xraph/taskq/queue"
	"github.com/xraph/taskq/schedule"
	"github.com/xraph/taskq/store"
	"github.com/xraph/taskq/worker"
)

const instrumentationName = "github.com/xraph/taskq"

// Engine owns one process's view of taskq: the kind registry, the
// dispatcher, a worker pool per queue and the scheduler.
type Engine struct {
	store      store.Store
	config     taskq.Config
	logger     *slog.Logger
	workerID   id.WorkerID
	registry   *job.Registry
	extensions *ext.Registry
	dispatcher *dispatcher.Dispatcher
	executor   *worker.Executor
	pools      []*worker.Pool
	scheduler  *schedule.Scheduler
	dlqService *dlq.Service
	metrics    *observability.MetricsExtension

	exts         []ext.Extension
	mws          []mw.Middleware
	policy       backoff.Policy
	queueConfigs []queue.Config
	queueManager *queue.Manager
	strictKinds  bool
	noWorkers    bool
	noScheduler  bool

	promRegisterer prometheus.Registerer
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces taskq.DefaultConfig().
func WithConfig(cfg taskq.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends middleware after the built-in chain.
func WithMiddleware(m ...mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m...) }
}

// WithBackoff sets the retry delay policy. Defaults to fixed.
func WithBackoff(p backoff.Policy) Option {
	return func(eng *Engine) { eng.policy = p }
}

// WithQueueConfig registers per-queue or per-kind concurrency and rate
// limits. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithStrictKinds makes Dispatch reject kinds that were never registered.
func WithStrictKinds() Option {
	return func(eng *Engine) { eng.strictKinds = true }
}

// WithoutWorkers disables the worker pools; Start only runs the scheduler.
func WithoutWorkers() Option {
	return func(eng *Engine) { eng.noWorkers = true }
}

// WithoutScheduler disables the scheduler; Start only runs the pools.
func WithoutScheduler() Option {
	return func(eng *Engine) { eng.noScheduler = true }
}

// WithPrometheus registers the lifecycle counters with reg. Without it no
// Prometheus collectors are created.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(eng *Engine) { eng.promRegisterer = reg }
}

// WithTracerProvider sets the OTel tracer provider used by the tracing
// middleware. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OTel meter provider used by the metrics
// middleware. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over s. Nothing runs until Start.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, errors.New("taskq/engine: nil store")
	}
	eng := &Engine{
		store:    s,
		config:   taskq.DefaultConfig(),
		logger:   slog.Default(),
		workerID: id.NewWorkerID(),
		registry: job.NewRegistry(),
		policy:   backoff.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if len(eng.config.Queues) == 0 {
		eng.config.Queues = []string{job.DefaultQueue}
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if eng.promRegisterer != nil {
		m, err := observability.NewMetricsExtension(eng.promRegisterer)
		if err != nil {
			return nil, fmt.Errorf("taskq/engine: register metrics: %w", err)
		}
		eng.metrics = m
		eng.extensions.Register(m)
	}

	dispatchOpts := []dispatcher.Option{
		dispatcher.WithExtensions(eng.extensions),
		dispatcher.WithLogger(eng.logger),
	}
	if eng.strictKinds {
		dispatchOpts = append(dispatchOpts, dispatcher.WithStrictKinds())
	}
	eng.dispatcher = dispatcher.New(s, eng.registry, dispatchOpts...)
	eng.dlqService = dlq.NewService(s, s)

	eng.executor = worker.NewExecutor(s, eng.registry,
		worker.WithExtensions(eng.extensions),
		worker.WithDLQ(eng.dlqService),
		worker.WithPolicy(eng.policy),
		worker.WithLogger(eng.logger),
		worker.WithMiddleware(eng.middleware()...),
	)

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
	}
	for i, q := range eng.config.Queues {
		poolOpts := []worker.PoolOption{
			worker.WithQueue(q),
			worker.WithConcurrency(eng.config.Concurrency),
			worker.WithPollInterval(eng.config.PollInterval),
			worker.WithPoolLogger(eng.logger),
			worker.WithWorkerID(eng.workerID),
		}
		// ReapExpired sweeps every queue, so one pool per process is enough.
		if i == 0 && eng.config.ReapInterval > 0 {
			poolOpts = append(poolOpts, worker.WithReaper(eng.config.ReapInterval, eng.config.ReapGrace))
		}
		if eng.queueManager != nil {
			poolOpts = append(poolOpts, worker.WithAdmission(eng.queueManager))
		}
		eng.pools = append(eng.pools, worker.NewPool(s, eng.executor, poolOpts...))
	}

	eng.scheduler = schedule.New(eng.dispatcher, s,
		schedule.WithInterval(eng.config.SchedulerInterval),
		schedule.WithLeases(s),
		schedule.WithEmitter(eng.extensions),
		schedule.WithLogger(eng.logger),
		schedule.WithOwner(eng.workerID),
	)
	return eng, nil
}

// middleware builds the execution chain: recover, tracing, metrics and
// logging, then anything passed with WithMiddleware.
func (eng *Engine) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}
	chain := []mw.Middleware{
		mw.Recover(eng.logger),
		tracing,
		metrics,
		mw.Logging(eng.logger),
	}
	return append(chain, eng.mws...)
}

// Register adds a typed kind definition.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// Dispatch enqueues a job of kind. See dispatcher.Dispatcher.Dispatch.
func (eng *Engine) Dispatch(ctx context.Context, kind string, payload any, opts ...job.Option) (id.JobID, error) {
	return eng.dispatcher.Dispatch(ctx, kind, payload, opts...)
}

// DispatchRaw enqueues an already-encoded payload.
func (eng *Engine) DispatchRaw(ctx context.Context, kind string, payload []byte, opts ...job.Option) (id.JobID, error) {
	return eng.dispatcher.DispatchRaw(ctx, kind, payload, opts...)
}

// Schedule registers a recurring definition with the scheduler.
func (eng *Engine) Schedule(def schedule.Definition) error {
	return eng.scheduler.Register(def)
}

// Start launches the scheduler and one pool per queue. It does not block.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started || eng.stopped {
		return nil
	}
	eng.started = true

	if !eng.noScheduler {
		if err := eng.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("taskq/engine: start scheduler: %w", err)
		}
	}
	if !eng.noWorkers {
		for _, p := range eng.pools {
			if err := p.Start(ctx); err != nil {
				return fmt.Errorf("taskq/engine: start pool %q: %w", p.Queue(), err)
			}
		}
	}
	eng.logger.Info("taskq engine started",
		slog.String("worker_id", eng.workerID.String()),
		slog.Any("queues", eng.config.Queues),
		slog.Int("concurrency", eng.config.Concurrency),
		slog.Bool("workers", !eng.noWorkers),
		slog.Bool("scheduler", !eng.noScheduler),
	)
	return nil
}

// Stop stops the scheduler, then drains every pool in parallel. In-flight
// jobs still resolve; once Config.ShutdownTimeout elapses or ctx ends,
// whichever comes first, their contexts are cancelled. Stop is idempotent.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil
	}
	eng.stopped = true
	eng.mu.Unlock()

	emitCtx := context.WithoutCancel(ctx)
	if d := eng.config.ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var errs []error
	if err := eng.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range eng.pools {
		g.Go(func() error {
			if err := p.Stop(gctx); err != nil {
				return fmt.Errorf("stop pool %q: %w", p.Queue(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	eng.extensions.EmitShutdown(emitCtx)
	eng.logger.Info("taskq engine stopped", slog.String("worker_id", eng.workerID.String()))
	return errors.Join(errs...)
}

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the effective configuration.
func (eng *Engine) Config() taskq.Config { return eng.config }

// WorkerID identifies this process in reservations and the scheduler lease.
func (eng *Engine) WorkerID() id.WorkerID { return eng.workerID }

// Registry returns the kind registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Dispatcher returns the producer.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.dispatcher }

// Pools returns the worker pools, one per queue.
func (eng *Engine) Pools() []*worker.Pool { return eng.pools }

// Scheduler returns the recurring-work scheduler.
func (eng *Engine) Scheduler() *schedule.Scheduler { return eng.scheduler }

// DLQ returns the dead-letter service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// QueueManager returns the admission manager, or nil when no queue
// configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Metrics returns the Prometheus extension, or nil without WithPrometheus.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }
