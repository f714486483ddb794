package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobEnqueued   = (*MetricsExtension)(nil)
	_ ext.JobStarted    = (*MetricsExtension)(nil)
	_ ext.JobSucceeded  = (*MetricsExtension)(nil)
	_ ext.JobReleased   = (*MetricsExtension)(nil)
	_ ext.JobDeleted    = (*MetricsExtension)(nil)
	_ ext.JobRetrying   = (*MetricsExtension)(nil)
	_ ext.JobDead       = (*MetricsExtension)(nil)
	_ ext.ScheduleFired = (*MetricsExtension)(nil)
)

// MetricsExtension counts lifecycle events by kind and queue.
type MetricsExtension struct {
	Enqueued      *prometheus.CounterVec
	Started       *prometheus.CounterVec
	Succeeded     *prometheus.CounterVec
	Released      *prometheus.CounterVec
	Deleted       *prometheus.CounterVec
	Retried       *prometheus.CounterVec
	Dead          *prometheus.CounterVec
	ScheduleFired *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// NewMetricsExtension creates the collectors and registers them with reg.
// It fails if a collector with the same name is already registered.
func NewMetricsExtension(reg prometheus.Registerer) (*MetricsExtension, error) {
	jobCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskq",
			Name:      name,
			Help:      help,
		}, []string{"kind", "queue"})
	}

	m := &MetricsExtension{
		Enqueued:  jobCounter("jobs_enqueued_total", "Jobs accepted by the dispatcher."),
		Started:   jobCounter("jobs_started_total", "Attempts that entered running."),
		Succeeded: jobCounter("jobs_succeeded_total", "Jobs acknowledged as succeeded."),
		Released:  jobCounter("jobs_released_total", "Attempts that released their job."),
		Deleted:   jobCounter("jobs_deleted_total", "Jobs removed by their handler."),
		Retried:   jobCounter("jobs_retried_total", "Failed attempts scheduled for retry."),
		Dead:      jobCounter("jobs_dead_total", "Jobs moved to the dead-letter state."),
		ScheduleFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskq",
			Name:      "schedule_fired_total",
			Help:      "Recurring definitions that dispatched a job.",
		}, []string{"schedule"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskq",
			Name:      "job_duration_seconds",
			Help:      "Duration of successful attempts.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.Enqueued, m.Started, m.Succeeded, m.Released, m.Deleted,
		m.Retried, m.Dead, m.ScheduleFired, m.Duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "prometheus-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	m.Enqueued.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, j *job.Job) error {
	m.Started.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(_ context.Context, j *job.Job, elapsed time.Duration) error {
	m.Succeeded.WithLabelValues(j.Kind, j.Queue).Inc()
	m.Duration.WithLabelValues(j.Kind).Observe(elapsed.Seconds())
	return nil
}

// OnJobReleased implements ext.JobReleased.
func (m *MetricsExtension) OnJobReleased(_ context.Context, j *job.Job, _ time.Duration) error {
	m.Released.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (m *MetricsExtension) OnJobDeleted(_ context.Context, j *job.Job) error {
	m.Deleted.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	m.Retried.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobDead implements ext.JobDead.
func (m *MetricsExtension) OnJobDead(_ context.Context, j *job.Job, _ error) error {
	m.Dead.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(_ context.Context, name string, _ id.JobID) error {
	m.ScheduleFired.WithLabelValues(name).Inc()
	return nil
}
