package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/dispatcher"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/store/memory"
	"github.com/xraph/taskq/worker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type payload struct {
	N int `json:"n"`
}

// harness wires a memory store, registry, dispatcher and executor that
// all read the same clock.
type harness struct {
	store    *memory.Store
	registry *job.Registry
	disp     *dispatcher.Dispatcher
	dlq      *dlq.Service
	events   *recorder
	worker   id.WorkerID
	now      func() time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithClock(t, time.Now)
}

// newHarnessAt pins every component to at.
func newHarnessAt(t *testing.T, at time.Time) *harness {
	t.Helper()
	return newHarnessWithClock(t, func() time.Time { return at })
}

func newHarnessWithClock(t *testing.T, now func() time.Time) *harness {
	t.Helper()
	s := memory.New(memory.WithClock(now))
	reg := job.NewRegistry()
	return &harness{
		store:    s,
		registry: reg,
		disp:     dispatcher.New(s, reg, dispatcher.WithClock(now)),
		dlq:      dlq.NewService(s, s),
		events:   &recorder{},
		worker:   id.NewWorkerID(),
		now:      now,
	}
}

func (h *harness) executor(opts ...worker.ExecutorOption) *worker.Executor {
	exts := ext.NewRegistry(quiet)
	exts.Register(h.events)
	base := []worker.ExecutorOption{
		worker.WithDLQ(h.dlq),
		worker.WithExtensions(exts),
		worker.WithLogger(quiet),
		worker.WithClock(h.now),
		worker.WithStoreRetry(time.Millisecond, time.Second),
	}
	return worker.NewExecutor(h.store, h.registry, append(base, opts...)...)
}

func (h *harness) handle(t *testing.T, kind string, fn job.HandlerFunc[payload], opts ...job.Option) {
	t.Helper()
	if err := job.RegisterDefinition(h.registry, job.NewDefinition(kind, fn, opts...)); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}
}

func (h *harness) dispatch(t *testing.T, kind string, v any, opts ...job.Option) id.JobID {
	t.Helper()
	jobID, err := h.disp.Dispatch(context.Background(), kind, v, opts...)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	return jobID
}

// reserve claims the next job regardless of its availability time.
func (h *harness) reserve(t *testing.T) *job.Job {
	t.Helper()
	return h.reserveAt(t, h.now().Add(24*time.Hour))
}

// reserveAt claims the next job due at now, stamping ReservedAt with it.
func (h *harness) reserveAt(t *testing.T, now time.Time) *job.Job {
	t.Helper()
	jobs, err := h.store.Reserve(context.Background(), job.DefaultQueue, now, 1, h.worker)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Reserve returned %d jobs, want 1", len(jobs))
	}
	return jobs[0]
}

func (h *harness) get(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return j
}

func (h *harness) dlqEntries(t *testing.T) []*dlq.Entry {
	t.Helper()
	entries, err := h.store.ListDLQ(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	return entries
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnJobStarted(context.Context, *job.Job) error { r.add("started"); return nil }

func (r *recorder) OnJobSucceeded(context.Context, *job.Job, time.Duration) error {
	r.add("succeeded")
	return nil
}

func (r *recorder) OnJobReleased(context.Context, *job.Job, time.Duration) error {
	r.add("released")
	return nil
}

func (r *recorder) OnJobDeleted(context.Context, *job.Job) error { r.add("deleted"); return nil }

func (r *recorder) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	r.add("retrying")
	return nil
}

func (r *recorder) OnJobDead(context.Context, *job.Job, error) error { r.add("dead"); return nil }

// ──────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────

func TestExecute_Success(t *testing.T) {
	h := newHarness(t)
	var got atomic.Int32
	h.handle(t, "sum", func(_ context.Context, p payload) error {
		got.Store(int32(p.N))
		return nil
	})
	jobID := h.dispatch(t, "sum", payload{N: 7})

	if err := h.executor().Execute(context.Background(), h.reserve(t), h.worker); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Load() != 7 {
		t.Fatalf("handler saw %d, want 7", got.Load())
	}
	j := h.get(t, jobID)
	if j.Status != job.StatusSucceeded || j.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d, want succeeded/1", j.Status, j.Attempts)
	}
	if j.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}
	if ev := strings.Join(h.events.list(), ","); ev != "started,succeeded" {
		t.Fatalf("events = %s", ev)
	}
}

func TestExecute_FailingJobExhaustsBudget(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.handle(t, "flaky", func(context.Context, payload) error {
		calls.Add(1)
		return errors.New("upstream unavailable")
	}, job.WithMaxAttempts(3), job.WithBackoff(time.Millisecond))
	jobID := h.dispatch(t, "flaky", payload{})
	exec := h.executor()

	for attempt := 1; attempt <= 3; attempt++ {
		err := exec.Execute(context.Background(), h.reserve(t), h.worker)
		if err == nil || !strings.Contains(err.Error(), "upstream unavailable") {
			t.Fatalf("attempt %d: err = %v", attempt, err)
		}
		j := h.get(t, jobID)
		if j.Attempts != attempt {
			t.Fatalf("attempt %d: Attempts = %d", attempt, j.Attempts)
		}
		want := job.StatusFailedRetrying
		if attempt == 3 {
			want = job.StatusDead
		}
		if j.Status != want {
			t.Fatalf("attempt %d: status = %s, want %s", attempt, j.Status, want)
		}
	}

	if calls.Load() != 3 {
		t.Fatalf("handler ran %d times, want 3", calls.Load())
	}
	entries := h.dlqEntries(t)
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}
	if entries[0].JobID.String() != jobID.String() || entries[0].Attempts != 3 {
		t.Fatalf("dlq entry = %+v", entries[0])
	}
	if entries[0].Error != "upstream unavailable" {
		t.Fatalf("dlq error = %q", entries[0].Error)
	}
	if ev := h.events.list(); ev[len(ev)-1] != "dead" {
		t.Fatalf("last event = %s, want dead", ev[len(ev)-1])
	}
}

func TestExecute_RetryDelayFollowsBackoff(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	h := newHarnessAt(t, fixed)
	h.handle(t, "flaky", func(context.Context, payload) error {
		return errors.New("boom")
	}, job.WithMaxAttempts(5), job.WithBackoff(20*time.Second))
	jobID := h.dispatch(t, "flaky", payload{})

	_ = h.executor().Execute(context.Background(), h.reserveAt(t, fixed), h.worker)

	j := h.get(t, jobID)
	if !j.AvailableAt.Equal(fixed.Add(20 * time.Second)) {
		t.Fatalf("AvailableAt = %s, want %s", j.AvailableAt, fixed.Add(20*time.Second))
	}
	if j.LastError != "boom" {
		t.Fatalf("LastError = %q", j.LastError)
	}
}

func TestExecute_TimeoutFailsAttempt(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.handle(t, "slow", func(context.Context, payload) error {
		// Ignores its context on purpose.
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		return nil
	}, job.WithTimeout(200*time.Millisecond), job.WithMaxAttempts(2))
	jobID := h.dispatch(t, "slow", payload{})

	start := time.Now()
	err := h.executor().Execute(context.Background(), h.reserve(t), h.worker)
	elapsed := time.Since(start)

	if !errors.Is(err, taskq.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Execute took %s, want about the timeout", elapsed)
	}
	j := h.get(t, jobID)
	if j.Status != job.StatusFailedRetrying || j.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d", j.Status, j.Attempts)
	}
	if !strings.Contains(j.LastError, "deadline exceeded") {
		t.Fatalf("LastError = %q", j.LastError)
	}
}

func TestExecute_ReleaseDoesNotCountAttempt(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	h := newHarnessAt(t, fixed)
	h.handle(t, "later", func(context.Context, payload) error {
		return job.Release(30 * time.Second)
	})
	jobID := h.dispatch(t, "later", payload{})

	if err := h.executor().Execute(context.Background(), h.reserveAt(t, fixed), h.worker); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	j := h.get(t, jobID)
	if j.Status != job.StatusPending {
		t.Fatalf("status = %s, want pending", j.Status)
	}
	if j.Attempts != 0 {
		t.Fatalf("Attempts = %d, want 0", j.Attempts)
	}
	if !j.AvailableAt.Equal(fixed.Add(30 * time.Second)) {
		t.Fatalf("AvailableAt = %s, want %s", j.AvailableAt, fixed.Add(30*time.Second))
	}
	if !j.ReservedBy.IsNil() {
		t.Fatal("reservation not cleared")
	}
}

func TestExecute_DeleteRemovesRecord(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "obsolete", func(context.Context, payload) error { return job.Delete() })
	jobID := h.dispatch(t, "obsolete", payload{})

	if err := h.executor().Execute(context.Background(), h.reserve(t), h.worker); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := h.store.Get(context.Background(), jobID); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("Get err = %v, want ErrJobNotFound", err)
	}
	if len(h.dlqEntries(t)) != 0 {
		t.Fatal("deleted job reached the dlq")
	}
}

func TestExecute_PermanentSkipsRetries(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "invalid", func(context.Context, payload) error {
		return job.Permanent(errors.New("malformed address"))
	}, job.WithMaxAttempts(5))
	jobID := h.dispatch(t, "invalid", payload{})

	err := h.executor().Execute(context.Background(), h.reserve(t), h.worker)
	if err == nil {
		t.Fatal("expected error")
	}
	j := h.get(t, jobID)
	if j.Status != job.StatusDead || j.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d, want dead/1", j.Status, j.Attempts)
	}
	if len(h.dlqEntries(t)) != 1 {
		t.Fatal("expected dlq entry")
	}
}

func TestExecute_PanicIsFailure(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "crash", func(context.Context, payload) error {
		panic("nil map write")
	}, job.WithMaxAttempts(2))
	jobID := h.dispatch(t, "crash", payload{})

	err := h.executor().Execute(context.Background(), h.reserve(t), h.worker)
	if err == nil || !strings.Contains(err.Error(), "nil map write") {
		t.Fatalf("err = %v", err)
	}
	j := h.get(t, jobID)
	if j.Status != job.StatusFailedRetrying {
		t.Fatalf("status = %s, want failed_retrying", j.Status)
	}
}

func TestExecute_UnknownKindDeadWithoutAttempt(t *testing.T) {
	h := newHarness(t)
	jobID := h.dispatch(t, "nobody.handles", payload{})

	err := h.executor().Execute(context.Background(), h.reserve(t), h.worker)
	if !errors.Is(err, taskq.ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
	j := h.get(t, jobID)
	if j.Status != job.StatusDead || j.Attempts != 0 {
		t.Fatalf("status=%s attempts=%d, want dead/0", j.Status, j.Attempts)
	}
	if len(h.dlqEntries(t)) != 1 {
		t.Fatal("expected dlq entry")
	}
}

func TestExecute_UndecodablePayloadDead(t *testing.T) {
	h := newHarness(t)
	var called atomic.Bool
	h.handle(t, "typed", func(context.Context, payload) error {
		called.Store(true)
		return nil
	})
	jobID := h.dispatch(t, "typed", []byte("{not json"))

	err := h.executor().Execute(context.Background(), h.reserve(t), h.worker)
	if !errors.Is(err, taskq.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
	if called.Load() {
		t.Fatal("handler ran with undecodable payload")
	}
	if j := h.get(t, jobID); j.Status != job.StatusDead {
		t.Fatalf("status = %s, want dead", j.Status)
	}
}

func TestExecute_ForeignReservationRejected(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "sum", func(context.Context, payload) error { return nil })
	jobID := h.dispatch(t, "sum", payload{})
	j := h.reserve(t)

	err := h.executor().Execute(context.Background(), j, id.NewWorkerID())
	if !errors.Is(err, taskq.ErrConcurrencyViolation) {
		t.Fatalf("err = %v, want ErrConcurrencyViolation", err)
	}
	if got := h.get(t, jobID); got.Status != job.StatusReserved || got.Attempts != 0 {
		t.Fatalf("status=%s attempts=%d, want reserved/0", got.Status, got.Attempts)
	}
}

func TestExecute_StaleOwnerCannotResolve(t *testing.T) {
	h := newHarness(t)
	other := id.NewWorkerID()
	var reserved *job.Job
	h.handle(t, "slow", func(context.Context, payload) error {
		// The reservation expires mid-run and another worker takes over.
		ctx := context.Background()
		reapAt := reserved.ReservedAt.Add(reserved.Timeout + time.Second)
		if _, err := h.store.ReapExpired(ctx, reapAt, 0); err != nil {
			t.Errorf("ReapExpired: %v", err)
		}
		if got, err := h.store.Reserve(ctx, job.DefaultQueue, reapAt.Add(time.Hour), 1, other); err != nil || len(got) != 1 {
			t.Errorf("Reserve by other = %d, %v", len(got), err)
		}
		if _, err := h.store.MarkRunning(ctx, reserved.ID, other); err != nil {
			t.Errorf("MarkRunning by other: %v", err)
		}
		return nil
	})
	jobID := h.dispatch(t, "slow", payload{})
	reserved = h.reserve(t)

	err := h.executor().Execute(context.Background(), reserved, h.worker)
	if !errors.Is(err, taskq.ErrConcurrencyViolation) {
		t.Fatalf("err = %v, want ErrConcurrencyViolation", err)
	}
	got := h.get(t, jobID)
	if got.Status != job.StatusRunning || got.ReservedBy.String() != other.String() {
		t.Fatalf("status=%s owner=%s, want running by the new owner", got.Status, got.ReservedBy)
	}
	if n := len(h.dlqEntries(t)); n != 0 {
		t.Fatalf("dlq entries = %d, want 0", n)
	}
}

// ──────────────────────────────────────────────────
// Store failures
// ──────────────────────────────────────────────────

type flakyAckStore struct {
	*memory.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *flakyAckStore) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	if s.calls.Add(1) <= s.failures.Load() {
		return errors.New("connection reset by peer")
	}
	return s.Store.Ack(ctx, jobID, workerID)
}

func TestExecute_AckRetriedUntilStoreRecovers(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyAckStore{Store: h.store}
	flaky.failures.Store(2)
	h.handle(t, "sum", func(context.Context, payload) error { return nil })
	jobID := h.dispatch(t, "sum", payload{})

	exec := worker.NewExecutor(flaky, h.registry,
		worker.WithLogger(quiet),
		worker.WithStoreRetry(time.Millisecond, 5*time.Second),
	)
	if err := exec.Execute(context.Background(), h.reserve(t), h.worker); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if flaky.calls.Load() != 3 {
		t.Fatalf("Ack called %d times, want 3", flaky.calls.Load())
	}
	if j := h.get(t, jobID); j.Status != job.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", j.Status)
	}
}

func TestExecute_PersistenceErrorWhenStoreStaysDown(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyAckStore{Store: h.store}
	flaky.failures.Store(1 << 30)
	h.handle(t, "sum", func(context.Context, payload) error { return nil })
	jobID := h.dispatch(t, "sum", payload{})

	exec := worker.NewExecutor(flaky, h.registry,
		worker.WithLogger(quiet),
		worker.WithStoreRetry(time.Millisecond, 50*time.Millisecond),
	)
	err := exec.Execute(context.Background(), h.reserve(t), h.worker)
	if !taskq.IsPersistence(err) {
		t.Fatalf("err = %v, want persistence error", err)
	}
	// Unresolved attempts stay owned until the reaper recovers them.
	if j := h.get(t, jobID); j.Status != job.StatusRunning {
		t.Fatalf("status = %s, want running", j.Status)
	}
}

// ──────────────────────────────────────────────────
// Reaping
// ──────────────────────────────────────────────────

func TestReaped_DeadRecordsReachDLQ(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "sum", func(context.Context, payload) error { return nil },
		job.WithMaxAttempts(1), job.WithTimeout(time.Second))
	jobID := h.dispatch(t, "sum", payload{})
	j := h.reserveAt(t, h.now())
	if _, err := h.store.MarkRunning(context.Background(), j.ID, h.worker); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	if early, _ := h.store.ReapExpired(context.Background(), j.ReservedAt.Add(j.Timeout), 0); len(early) != 0 {
		t.Fatalf("reaped %d jobs before the reservation expired", len(early))
	}
	reaped, err := h.store.ReapExpired(context.Background(), j.ReservedAt.Add(j.Timeout+time.Second), 0)
	if err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if len(reaped) != 1 || reaped[0].Status != job.StatusDead {
		t.Fatalf("reaped = %+v", reaped)
	}

	h.executor().Reaped(context.Background(), reaped[0])

	entries := h.dlqEntries(t)
	if len(entries) != 1 || entries[0].JobID.String() != jobID.String() {
		t.Fatalf("dlq entries = %+v", entries)
	}
}
