package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/store/memory"
)

// Behavior shared by every backend lives in storetest; these cases cover
// what only the in-memory store offers.

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newJob(kind string) *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Kind:        kind,
		Queue:       job.DefaultQueue,
		Payload:     []byte(`{}`),
		Status:      job.StatusPending,
		MaxAttempts: 3,
		Timeout:     time.Minute,
		AvailableAt: base,
		CreatedAt:   base,
	}
}

// start enqueues j, reserves it at base for w and marks it running.
func start(t *testing.T, s *memory.Store, j *job.Job, w id.WorkerID) {
	t.Helper()
	ctx := context.Background()
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got, err := s.Reserve(ctx, j.Queue, base, 1, w); err != nil || len(got) != 1 {
		t.Fatalf("Reserve = %d, %v", len(got), err)
	}
	if _, err := s.MarkRunning(ctx, j.ID, w); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); !errors.Is(err, taskq.ErrStoreClosed) {
		t.Fatalf("Ping after Close = %v, want ErrStoreClosed", err)
	}
}

func TestEnqueue_FillsStatusAndUpdatedAt(t *testing.T) {
	s := memory.New()
	j := newJob("k")
	j.Status = ""
	if err := s.Enqueue(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusPending || !got.UpdatedAt.Equal(base) {
		t.Fatalf("stored = %s, updated %s", got.Status, got.UpdatedAt)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := newJob("k")
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	j.Kind = "mutated after enqueue"

	got, _ := s.Get(ctx, j.ID)
	got.Status = job.StatusDead
	got.Payload[0] = 'x'

	again, _ := s.Get(ctx, j.ID)
	if again.Kind != "k" || again.Status != job.StatusPending || string(again.Payload) != "{}" {
		t.Fatalf("store shares memory with callers: %+v", again)
	}
}

func TestWithClock_StampsResolutions(t *testing.T) {
	clk := &clock{t: base}
	s := memory.New(memory.WithClock(clk.Now))
	ctx := context.Background()
	w := id.NewWorkerID()

	released := newJob("released")
	start(t, s, released, w)
	clk.Advance(5 * time.Second)
	if err := s.Release(ctx, released.ID, w, 30*time.Second); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, _ := s.Get(ctx, released.ID)
	if want := base.Add(35 * time.Second); !got.AvailableAt.Equal(want) || !got.UpdatedAt.Equal(base.Add(5*time.Second)) {
		t.Fatalf("released available %s updated %s, want %s", got.AvailableAt, got.UpdatedAt, want)
	}

	acked := newJob("acked")
	start(t, s, acked, w)
	clk.Advance(time.Minute)
	if err := s.Ack(ctx, acked.ID, w); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	got, _ = s.Get(ctx, acked.ID)
	if got.FinishedAt == nil || !got.FinishedAt.Equal(clk.Now()) {
		t.Fatalf("FinishedAt = %v, want %s", got.FinishedAt, clk.Now())
	}
}

func TestWithPurgeOnAck(t *testing.T) {
	s := memory.New(memory.WithPurgeOnAck())
	ctx := context.Background()
	w := id.NewWorkerID()

	acked := newJob("acked")
	start(t, s, acked, w)
	if err := s.Ack(ctx, acked.ID, w); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, acked.ID); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("Get after purge = %v, want ErrJobNotFound", err)
	}

	// Only success purges; dead records stay for inspection.
	killed := newJob("killed")
	start(t, s, killed, w)
	if err := s.Kill(ctx, killed.ID, w, "fatal"); err != nil {
		t.Fatal(err)
	}
	if got, err := s.Get(ctx, killed.ID); err != nil || got.Status != job.StatusDead {
		t.Fatalf("killed = %v, %v", got, err)
	}
}
