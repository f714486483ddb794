package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/taskq"
	ah "github.com/xraph/taskq/audit_hook"
	"github.com/xraph/taskq/engine"
	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/store/memory"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.Event
	err    error
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}

func (m *mockRecorder) find(action string) *ah.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Action == action {
			return e
		}
	}
	return nil
}

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Kind:        "email.send",
		Queue:       "mail",
		Status:      job.StatusRunning,
		Attempts:    2,
		MaxAttempts: 3,
		Schedule:    "digest",
		LastError:   "smtp down",
		ReservedBy:  id.NewWorkerID(),
	}
}

func newRegistry(rec ah.Recorder, opts ...ah.Option) *ext.Registry {
	opts = append([]ah.Option{ah.WithLogger(quiet), ah.WithClock(func() time.Time { return fixed })}, opts...)
	r := ext.NewRegistry(quiet)
	r.Register(ah.New(rec, opts...))
	return r
}

// ── Hooks ────────────────────────────────────────────

func TestEveryHookRecords(t *testing.T) {
	rec := &mockRecorder{}
	r := newRegistry(rec)
	ctx := context.Background()
	j := newJob()

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobSucceeded(ctx, j, 1500*time.Millisecond)
	r.EmitJobReleased(ctx, j, time.Second)
	r.EmitJobDeleted(ctx, j)
	r.EmitJobRetrying(ctx, j, 2, fixed.Add(time.Minute))
	r.EmitJobDead(ctx, j, errors.New("smtp down"))
	r.EmitScheduleFired(ctx, "digest", j.ID)
	r.EmitShutdown(ctx)

	got := rec.actions()
	want := ah.AllActions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("actions = %v, want %v", got, want)
	}
}

func TestJobEventFields(t *testing.T) {
	rec := &mockRecorder{}
	r := newRegistry(rec)
	j := newJob()

	r.EmitJobSucceeded(context.Background(), j, 1500*time.Millisecond)
	evt := rec.find(ah.ActionJobSucceeded)
	if evt == nil {
		t.Fatal("no succeeded event")
	}
	if evt.Resource != ah.ResourceJob || evt.ResourceID != j.ID.String() {
		t.Errorf("resource = %s/%s", evt.Resource, evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("severity/outcome = %s/%s", evt.Severity, evt.Outcome)
	}
	if !evt.At.Equal(fixed) {
		t.Errorf("At = %v, want %v", evt.At, fixed)
	}
	for k, v := range map[string]any{
		"kind":       "email.send",
		"queue":      "mail",
		"schedule":   "digest",
		"attempts":   2,
		"elapsed_ms": int64(1500),
	} {
		if evt.Metadata[k] != v {
			t.Errorf("metadata[%s] = %v (%T), want %v", k, evt.Metadata[k], evt.Metadata[k], v)
		}
	}
}

func TestDeadIsCritical(t *testing.T) {
	rec := &mockRecorder{}
	r := newRegistry(rec)

	r.EmitJobDead(context.Background(), newJob(), errors.New("budget spent"))
	evt := rec.find(ah.ActionJobDead)
	if evt == nil {
		t.Fatal("no dead event")
	}
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure || evt.Reason != "budget spent" {
		t.Errorf("dead event = %+v", evt)
	}
}

func TestWithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	r := newRegistry(rec, ah.WithActions(ah.ActionJobDead))
	ctx := context.Background()

	r.EmitJobEnqueued(ctx, newJob())
	r.EmitJobDead(ctx, newJob(), errors.New("x"))
	r.EmitShutdown(ctx)

	if got := rec.actions(); len(got) != 1 || got[0] != ah.ActionJobDead {
		t.Errorf("actions = %v", got)
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	rec := &mockRecorder{err: errors.New("audit backend down")}
	e := ah.New(rec, ah.WithLogger(quiet))

	if err := e.OnJobStarted(context.Background(), newJob()); err != nil {
		t.Errorf("OnJobStarted = %v, want nil", err)
	}
}

func TestSlogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := newRegistry(ah.SlogRecorder(logger))

	r.EmitJobDead(context.Background(), newJob(), errors.New("smtp down"))
	out := buf.String()
	for _, want := range []string{"level=ERROR", "action=job.dead", "reason=\"smtp down\"", "kind=email.send"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

// ── Engine wiring ────────────────────────────────────

func TestEngineEmitsThroughHook(t *testing.T) {
	rec := &mockRecorder{}
	cfg := taskq.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ReapInterval = 0

	eng, err := engine.New(memory.New(),
		engine.WithConfig(cfg),
		engine.WithLogger(quiet),
		engine.WithExtension(ah.New(rec, ah.WithLogger(quiet))),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	def := job.NewDefinition("noop", func(context.Context, struct{}) error { return nil })
	if err := engine.Register(eng, def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.Dispatch(ctx, "noop", struct{}{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for rec.find(ah.ActionJobSucceeded) == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	for _, a := range []string{ah.ActionJobEnqueued, ah.ActionJobStarted, ah.ActionJobSucceeded, ah.ActionEngineShutdown} {
		if rec.find(a) == nil {
			t.Errorf("missing %s in %v", a, rec.actions())
		}
	}
}
