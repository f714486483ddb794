package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.JobEnqueued   = (*Extension)(nil)
	_ ext.JobStarted    = (*Extension)(nil)
	_ ext.JobSucceeded  = (*Extension)(nil)
	_ ext.JobReleased   = (*Extension)(nil)
	_ ext.JobDeleted    = (*Extension)(nil)
	_ ext.JobRetrying   = (*Extension)(nil)
	_ ext.JobDead       = (*Extension)(nil)
	_ ext.ScheduleFired = (*Extension)(nil)
	_ ext.Shutdown      = (*Extension)(nil)
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions limits the extension to the listed actions. All are enabled
// by default.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithLogger sets the logger used for recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}

// Extension records lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil means all
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension writing to r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{recorder: r, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle ───────────────────────────────────

func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	e.recordJob(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil,
		"available_at", j.AvailableAt.UTC().Format(time.RFC3339),
	)
	return nil
}

func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	e.recordJob(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil,
		"worker_id", j.ReservedBy.String(),
	)
	return nil
}

func (e *Extension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	e.recordJob(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess, j, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (e *Extension) OnJobReleased(ctx context.Context, j *job.Job, delay time.Duration) error {
	e.recordJob(ctx, ActionJobReleased, SeverityWarning, OutcomeSuccess, j, nil,
		"delay_ms", delay.Milliseconds(),
	)
	return nil
}

func (e *Extension) OnJobDeleted(ctx context.Context, j *job.Job) error {
	e.recordJob(ctx, ActionJobDeleted, SeverityInfo, OutcomeSuccess, j, nil)
	return nil
}

func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) error {
	e.recordJob(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, nil,
		"attempt", attempt,
		"next_at", nextAt.UTC().Format(time.RFC3339),
		"last_error", j.LastError,
	)
	return nil
}

func (e *Extension) OnJobDead(ctx context.Context, j *job.Job, err error) error {
	e.recordJob(ctx, ActionJobDead, SeverityCritical, OutcomeFailure, j, err)
	return nil
}

// ── Scheduler and engine ────────────────────────────

func (e *Extension) OnScheduleFired(ctx context.Context, name string, jobID id.JobID) error {
	e.record(ctx, &Event{
		Action:     ActionScheduleFired,
		Resource:   ResourceSchedule,
		ResourceID: name,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata:   map[string]any{"job_id": jobID.String()},
	})
	return nil
}

func (e *Extension) OnShutdown(ctx context.Context) error {
	e.record(ctx, &Event{
		Action:   ActionEngineShutdown,
		Resource: ResourceEngine,
		Outcome:  OutcomeSuccess,
		Severity: SeverityInfo,
	})
	return nil
}

// recordJob fills the job fields every job event carries. extra is a list
// of key/value pairs.
func (e *Extension) recordJob(ctx context.Context, action, severity, outcome string, j *job.Job, cause error, extra ...any) {
	meta := map[string]any{
		"kind":         j.Kind,
		"queue":        j.Queue,
		"attempts":     j.Attempts,
		"max_attempts": j.MaxAttempts,
	}
	if j.Schedule != "" {
		meta["schedule"] = j.Schedule
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			meta[k] = extra[i+1]
		}
	}
	evt := &Event{
		Action:     action,
		Resource:   ResourceJob,
		ResourceID: j.ID.String(),
		Outcome:    outcome,
		Severity:   severity,
		Metadata:   meta,
	}
	if cause != nil {
		evt.Reason = cause.Error()
	}
	e.record(ctx, evt)
}

func (e *Extension) record(ctx context.Context, evt *Event) {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return
	}
	evt.At = e.now().UTC()
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: record failed",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}
