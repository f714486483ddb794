package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/queue"
	"github.com/xraph/taskq/worker"
)

func (h *harness) pool(opts ...worker.PoolOption) *worker.Pool {
	base := []worker.PoolOption{
		worker.WithPollInterval(5 * time.Millisecond),
		worker.WithPoolLogger(quiet),
	}
	return worker.NewPool(h.store, h.executor(), append(base, opts...)...)
}

func (h *harness) count(t *testing.T, status job.Status) int64 {
	t.Helper()
	n, err := h.store.Count(context.Background(), job.CountOpts{Status: status})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stop(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_ProcessesAllJobs(t *testing.T) {
	h := newHarness(t)
	var ran atomic.Int32
	h.handle(t, "count", func(context.Context, payload) error {
		ran.Add(1)
		return nil
	})
	for i := 0; i < 25; i++ {
		h.dispatch(t, "count", payload{N: i})
	}

	p := h.pool(worker.WithConcurrency(4))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, p)

	waitFor(t, "all jobs to succeed", func() bool {
		return h.count(t, job.StatusSucceeded) == 25
	})
	if ran.Load() != 25 {
		t.Fatalf("handler ran %d times, want 25", ran.Load())
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	h := newHarness(t)
	var active, peak atomic.Int32
	h.handle(t, "slow", func(context.Context, payload) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	for i := 0; i < 10; i++ {
		h.dispatch(t, "slow", payload{})
	}

	p := h.pool(worker.WithConcurrency(2))
	_ = p.Start(context.Background())
	defer stop(t, p)

	waitFor(t, "jobs to finish", func() bool {
		return h.count(t, job.StatusSucceeded) == 10
	})
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestPool_CompetingPoolsRunJobOnce(t *testing.T) {
	h := newHarness(t)
	var ran atomic.Int32
	h.handle(t, "once", func(context.Context, payload) error {
		ran.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	jobID := h.dispatch(t, "once", payload{})

	a := h.pool(worker.WithConcurrency(1))
	b := h.pool(worker.WithConcurrency(1))
	_ = a.Start(context.Background())
	_ = b.Start(context.Background())

	waitFor(t, "job to succeed", func() bool {
		return h.get(t, jobID).Status == job.StatusSucceeded
	})
	time.Sleep(50 * time.Millisecond)
	stop(t, a)
	stop(t, b)

	if ran.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", ran.Load())
	}
	if got := h.get(t, jobID).Attempts; got != 1 {
		t.Fatalf("Attempts = %d, want 1", got)
	}
}

func TestPool_OnlyServesItsQueue(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "count", func(context.Context, payload) error { return nil })
	other := h.dispatch(t, "count", payload{}, job.WithQueue("reports"))
	mine := h.dispatch(t, "count", payload{})

	p := h.pool()
	_ = p.Start(context.Background())
	waitFor(t, "default job", func() bool {
		return h.get(t, mine).Status == job.StatusSucceeded
	})
	stop(t, p)

	if got := h.get(t, other).Status; got != job.StatusPending {
		t.Fatalf("reports job status = %s, want pending", got)
	}
}

func TestPool_AdmissionLimitsKind(t *testing.T) {
	h := newHarness(t)
	var active, peak atomic.Int32
	h.handle(t, "limited", func(context.Context, payload) error {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(15 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	for i := 0; i < 4; i++ {
		h.dispatch(t, "limited", payload{})
	}

	limits := queue.NewManager(queue.Config{Name: job.DefaultQueue, Kind: "limited", MaxConcurrency: 1})
	p := h.pool(worker.WithConcurrency(4), worker.WithAdmission(limits))
	_ = p.Start(context.Background())
	defer stop(t, p)

	waitFor(t, "limited jobs", func() bool {
		return h.count(t, job.StatusSucceeded) == 4
	})
	if peak.Load() != 1 {
		t.Fatalf("peak = %d, want 1", peak.Load())
	}
	for _, j := range mustList(t, h) {
		if j.Attempts != 1 {
			t.Fatalf("job %s attempts = %d, want 1", j.ID, j.Attempts)
		}
	}
}

func mustList(t *testing.T, h *harness) []*job.Job {
	t.Helper()
	js, err := h.store.List(context.Background(), job.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return js
}

// ──────────────────────────────────────────────────
// Shutdown
// ──────────────────────────────────────────────────

func TestPool_StopDrainsInFlight(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.handle(t, "drain", func(context.Context, payload) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	jobID := h.dispatch(t, "drain", payload{})

	p := h.pool()
	_ = p.Start(context.Background())
	<-started
	stop(t, p)

	if got := h.get(t, jobID).Status; got != job.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got)
	}
}

func TestPool_StopDeadlineCancelsHandlers(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.handle(t, "stuck", func(ctx context.Context, _ payload) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, job.WithMaxAttempts(3), job.WithTimeout(time.Minute))
	jobID := h.dispatch(t, "stuck", payload{})

	p := h.pool()
	_ = p.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	j := h.get(t, jobID)
	if j.Status != job.StatusFailedRetrying || j.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d, want failed_retrying/1", j.Status, j.Attempts)
	}
}

func TestPool_StopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	idle := h.pool()
	stop(t, idle)
	stop(t, idle)
	if err := idle.Start(context.Background()); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}

	p := h.pool()
	_ = p.Start(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop(t, p)
		}()
	}
	wg.Wait()
}

func TestPool_RunReturnsOnCancel(t *testing.T) {
	h := newHarness(t)
	p := h.pool()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, time.Second) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

// ──────────────────────────────────────────────────
// Reaper
// ──────────────────────────────────────────────────

func TestPool_ReapRecoversAbandonedReservation(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "sum", func(context.Context, payload) error { return nil },
		job.WithTimeout(time.Second), job.WithMaxAttempts(3))
	jobID := h.dispatch(t, "sum", payload{})

	crashed := id.NewWorkerID()
	if _, err := h.store.Reserve(context.Background(), job.DefaultQueue, time.Now(), 1, crashed); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := h.store.MarkRunning(context.Background(), jobID, crashed); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	later := time.Now().Add(time.Minute)
	p := h.pool(
		worker.WithPoolClock(func() time.Time { return later }),
		worker.WithReaper(time.Hour, 5*time.Second),
	)
	if n := p.Reap(context.Background()); n != 1 {
		t.Fatalf("Reap = %d, want 1", n)
	}

	j := h.get(t, jobID)
	if j.Status != job.StatusFailedRetrying || j.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d, want failed_retrying/1", j.Status, j.Attempts)
	}
	if !j.ReservedBy.IsNil() {
		t.Fatal("reservation not cleared")
	}
	if n := p.Reap(context.Background()); n != 0 {
		t.Fatalf("second Reap = %d, want 0", n)
	}
}
