// Package storetest is a conformance suite for store.Store implementations.
// Every backend runs it from its own tests:
//
//	storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/store"
)

// Factory returns an empty, migrated store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"EnqueueGet", testEnqueueGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"ReserveOrderAndGate", testReserveOrderAndGate},
		{"ReserveExclusive", testReserveExclusive},
		{"MarkRunning", testMarkRunning},
		{"AttemptBudget", testAttemptBudget},
		{"Ack", testAck},
		{"Release", testRelease},
		{"Retry", testRetry},
		{"Kill", testKill},
		{"Cancel", testCancel},
		{"Delete", testDelete},
		{"StaleOwner", testStaleOwner},
		{"ListCount", testListCount},
		{"HasOutstanding", testHasOutstanding},
		{"ReapExpired", testReapExpired},
		{"DLQ", testDLQ},
		{"Lease", testLease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// base is truncated to milliseconds, the coarsest precision any backend
// keeps.
func base() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
}

func newJob(kind string, at time.Time) *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Kind:        kind,
		Queue:       job.DefaultQueue,
		Payload:     []byte(`{"n":1}`),
		Status:      job.StatusPending,
		MaxAttempts: 3,
		Timeout:     time.Minute,
		Backoff:     10 * time.Second,
		AvailableAt: at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func enqueue(t *testing.T, s store.Store, js ...*job.Job) {
	t.Helper()
	for _, j := range js {
		if err := s.Enqueue(context.Background(), j); err != nil {
			t.Fatalf("Enqueue %s: %v", j.ID, err)
		}
	}
}

func get(t *testing.T, s store.Store, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := s.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get %s: %v", jobID, err)
	}
	return j
}

// claim reserves and starts j for w.
func claim(t *testing.T, s store.Store, j *job.Job, w id.WorkerID) {
	t.Helper()
	got, err := s.Reserve(context.Background(), j.Queue, time.Now().UTC(), 1, w)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != j.ID.String() {
		t.Fatalf("Reserve returned %d jobs, want %s", len(got), j.ID)
	}
	if _, err := s.MarkRunning(context.Background(), j.ID, w); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
}

func ids(js []*job.Job) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.ID.String()
	}
	return out
}

func testEnqueueGet(t *testing.T, s store.Store) {
	at := base()
	j := newJob("mail.send", at)
	j.Queue = "mail"
	j.Schedule = "digest"
	j.Payload = []byte{0x00, 0xff, 0x10}
	enqueue(t, s, j)

	got := get(t, s, j.ID)
	if got.ID.String() != j.ID.String() || got.Kind != "mail.send" || got.Queue != "mail" {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if string(got.Payload) != string(j.Payload) {
		t.Fatalf("Payload = %x, want %x", got.Payload, j.Payload)
	}
	if got.Status != job.StatusPending || got.Attempts != 0 || got.MaxAttempts != 3 {
		t.Fatalf("status/attempts = %s %d/%d", got.Status, got.Attempts, got.MaxAttempts)
	}
	if got.Timeout != time.Minute || got.Backoff != 10*time.Second {
		t.Fatalf("timeout/backoff = %s/%s", got.Timeout, got.Backoff)
	}
	if !got.AvailableAt.Equal(at) || !got.CreatedAt.Equal(at) {
		t.Fatalf("times = %s/%s, want %s", got.AvailableAt, got.CreatedAt, at)
	}
	if got.Schedule != "digest" || !got.ReservedBy.IsNil() || got.ReservedAt != nil {
		t.Fatalf("supplemental fields = %+v", got)
	}

	if _, err := s.Get(context.Background(), id.NewJobID()); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("Get unknown: %v, want ErrJobNotFound", err)
	}
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	j := newJob("a", base())
	enqueue(t, s, j)
	if err := s.Enqueue(context.Background(), j); !errors.Is(err, taskq.ErrJobAlreadyExists) {
		t.Fatalf("second Enqueue: %v, want ErrJobAlreadyExists", err)
	}
}

func testReserveOrderAndGate(t *testing.T, s store.Store) {
	at := base()
	late := newJob("late", at.Add(2*time.Second))
	early := newJob("early", at)
	sameTimeNewer := newJob("same-newer", at.Add(time.Second))
	sameTimeNewer.CreatedAt = at.Add(time.Millisecond)
	sameTimeOlder := newJob("same-older", at.Add(time.Second))
	sameTimeOlder.CreatedAt = at
	future := newJob("future", time.Now().UTC().Add(time.Hour))
	other := newJob("other", at)
	other.Queue = "reports"
	enqueue(t, s, late, sameTimeNewer, early, future, sameTimeOlder, other)

	w := id.NewWorkerID()
	got, err := s.Reserve(context.Background(), job.DefaultQueue, time.Now().UTC(), 10, w)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	want := ids([]*job.Job{early, sameTimeOlder, sameTimeNewer, late})
	have := ids(got)
	if fmt.Sprint(have) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", have, want)
	}
	for _, j := range got {
		if j.Status != job.StatusReserved || j.ReservedBy.String() != w.String() || j.ReservedAt == nil {
			t.Fatalf("reserved record = %+v", j)
		}
	}

	again, err := s.Reserve(context.Background(), job.DefaultQueue, time.Now().UTC(), 10, w)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Reserve returned %v", ids(again))
	}
	if none, _ := s.Reserve(context.Background(), job.DefaultQueue, time.Now().UTC(), 0, w); len(none) != 0 {
		t.Fatal("limit 0 reserved jobs")
	}
}

func testReserveExclusive(t *testing.T, s store.Store) {
	const total = 60
	at := base()
	for i := 0; i < total; i++ {
		enqueue(t, s, newJob("bulk", at.Add(time.Duration(i)*time.Millisecond)))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				got, err := s.Reserve(context.Background(), job.DefaultQueue, time.Now().UTC(), 4, worker)
				if err != nil {
					t.Errorf("Reserve: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, j := range got {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("reserved %d distinct jobs, want %d", len(seen), total)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Fatalf("job %s reserved %d times", jobID, n)
		}
	}
}

func testMarkRunning(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("a", base())
	enqueue(t, s, j)

	owner := id.NewWorkerID()
	if _, err := s.MarkRunning(ctx, j.ID, owner); !errors.Is(err, taskq.ErrInvalidState) {
		t.Fatalf("MarkRunning pending: %v, want ErrInvalidState", err)
	}
	if _, err := s.Reserve(ctx, job.DefaultQueue, time.Now().UTC(), 1, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkRunning(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, taskq.ErrConcurrencyViolation) {
		t.Fatalf("MarkRunning by stranger: %v, want ErrConcurrencyViolation", err)
	}

	running, err := s.MarkRunning(ctx, j.ID, owner)
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if running.Status != job.StatusRunning || running.Attempts != 1 {
		t.Fatalf("running = %s/%d", running.Status, running.Attempts)
	}
	if _, err := s.MarkRunning(ctx, id.NewJobID(), owner); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("MarkRunning unknown: %v, want ErrJobNotFound", err)
	}
}

func testAttemptBudget(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("a", base())
	j.MaxAttempts = 1
	enqueue(t, s, j)
	w := id.NewWorkerID()
	claim(t, s, j, w)

	if err := s.Retry(ctx, j.ID, w, 0, "boom"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if _, err := s.Reserve(ctx, job.DefaultQueue, time.Now().UTC(), 1, w); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkRunning(ctx, j.ID, w); !errors.Is(err, taskq.ErrBudgetSpent) {
		t.Fatalf("MarkRunning past budget: %v, want ErrBudgetSpent", err)
	}
	if got := get(t, s, j.ID); got.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", got.Attempts)
	}
}

func testAck(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("a", base())
	enqueue(t, s, j)
	w := id.NewWorkerID()
	if err := s.Ack(ctx, j.ID, w); !errors.Is(err, taskq.ErrInvalidState) {
		t.Fatalf("Ack pending: %v, want ErrInvalidState", err)
	}
	claim(t, s, j, w)

	if err := s.Ack(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, taskq.ErrConcurrencyViolation) {
		t.Fatalf("Ack by stranger: %v, want ErrConcurrencyViolation", err)
	}
	if err := s.Ack(ctx, j.ID, w); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	got := get(t, s, j.ID)
	if got.Status != job.StatusSucceeded || got.FinishedAt == nil || !got.ReservedBy.IsNil() {
		t.Fatalf("acked = %+v", got)
	}
	if err := s.Ack(ctx, j.ID, w); !errors.Is(err, taskq.ErrInvalidState) {
		t.Fatalf("second Ack: %v, want ErrInvalidState", err)
	}
	if err := s.Ack(ctx, id.NewJobID(), w); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("Ack unknown: %v, want ErrJobNotFound", err)
	}
}

func testRelease(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("a", base())
	enqueue(t, s, j)
	w := id.NewWorkerID()
	claim(t, s, j, w)

	before := time.Now().UTC()
	if err := s.Release(ctx, j.ID, w, 30*time.Second); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got := get(t, s, j.ID)
	if got.Status != job.StatusPending || got.Attempts != 0 {
		t.Fatalf("released = %s/%d, want pending/0", got.Status, got.Attempts)
	}
	if got.AvailableAt.Before(before.Add(30*time.Second - time.Second)) {
		t.Fatalf("AvailableAt = %s, want about %s", got.AvailableAt, before.Add(30*time.Second))
	}
	if !got.ReservedBy.IsNil() {
		t.Fatal("reservation not cleared")
	}
	if res, _ := s.Reserve(ctx, job.DefaultQueue, time.Now().UTC(), 1, w); len(res) != 0 {
		t.Fatal("released job reservable before its delay")
	}
	if res, _ := s.Reserve(ctx, job.DefaultQueue, time.Now().UTC().Add(time.Minute), 1, w); len(res) != 1 {
		t.Fatal("released job not reservable after its delay")
	}
}

func testRetry(t *testing.T, s store.Store) {
	ctx := context.Background()
	far := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	j := newJob("a", far)
	enqueue(t, s, j)
	w := id.NewWorkerID()
	claim(t, s, j, w)

	if err := s.Retry(ctx, j.ID, w, time.Hour, "upstream 503"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got := get(t, s, j.ID)
	if got.Status != job.StatusFailedRetrying || got.Attempts != 1 || got.LastError != "upstream 503" {
		t.Fatalf("retried = %+v", got)
	}
	pushed := got.AvailableAt
	if !pushed.After(time.Now().UTC().Add(59 * time.Minute)) {
		t.Fatalf("AvailableAt = %s, want about an hour out", pushed)
	}

	// A shorter delay never moves availability backward.
	if _, err := s.Reserve(ctx, job.DefaultQueue, pushed, 1, w); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkRunning(ctx, j.ID, w); err != nil {
		t.Fatal(err)
	}
	if err := s.Retry(ctx, j.ID, w, 0, "again"); err != nil {
		t.Fatal(err)
	}
	if got := get(t, s, j.ID); got.AvailableAt.Before(pushed) {
		t.Fatalf("AvailableAt moved backward: %s < %s", got.AvailableAt, pushed)
	}
}

func testKill(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("a", base())
	enqueue(t, s, j)
	w := id.NewWorkerID()
	claim(t, s, j, w)

	if err := s.Kill(ctx, j.ID, w, "fatal"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	got := get(t, s, j.ID)
	if got.Status != job.StatusDead || got.LastError != "fatal" || got.FinishedAt == nil {
		t.Fatalf("killed = %+v", got)
	}
	if err := s.Kill(ctx, j.ID, w, "again"); !errors.Is(err, taskq.ErrInvalidState) {
		t.Fatalf("Kill dead: %v, want ErrInvalidState", err)
	}
	if res, _ := s.Reserve(ctx, job.DefaultQueue, time.Now().UTC().Add(time.Hour), 1, id.NewWorkerID()); len(res) != 0 {
		t.Fatal("dead job reservable")
	}
}

func testCancel(t *testing.T, s store.Store) {
	ctx := context.Background()
	retrying := newJob("retrying", base())
	pending := newJob("pending", base().Add(time.Millisecond))
	owned := newJob("owned", base().Add(2*time.Millisecond))
	owned.Queue = "reports"
	enqueue(t, s, retrying, pending, owned)

	w := id.NewWorkerID()
	claim(t, s, retrying, w)
	if err := s.Retry(ctx, retrying.ID, w, 0, "flaky"); err != nil {
		t.Fatal(err)
	}
	claim(t, s, owned, w)

	for _, j := range []*job.Job{pending, retrying} {
		if err := s.Cancel(ctx, j.ID, "cancelled"); err != nil {
			t.Fatalf("Cancel %s: %v", j.Kind, err)
		}
		got := get(t, s, j.ID)
		if got.Status != job.StatusDead || got.LastError != "cancelled" || got.FinishedAt == nil {
			t.Fatalf("cancelled %s = %+v", j.Kind, got)
		}
		if err := s.Cancel(ctx, j.ID, "again"); !errors.Is(err, taskq.ErrInvalidState) {
			t.Fatalf("Cancel dead %s: %v, want ErrInvalidState", j.Kind, err)
		}
	}

	if err := s.Cancel(ctx, owned.ID, "cancelled"); !errors.Is(err, taskq.ErrInvalidState) {
		t.Fatalf("Cancel running: %v, want ErrInvalidState", err)
	}
	if got := get(t, s, owned.ID); got.Status != job.StatusRunning || got.ReservedBy.String() != w.String() {
		t.Fatalf("refused Cancel touched the record: %+v", got)
	}
	if err := s.Cancel(ctx, id.NewJobID(), "cancelled"); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("Cancel unknown: %v, want ErrJobNotFound", err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("a", base())
	j.Schedule = "cleanup"
	enqueue(t, s, j)
	w := id.NewWorkerID()
	if err := s.Delete(ctx, j.ID, w); !errors.Is(err, taskq.ErrInvalidState) {
		t.Fatalf("Delete pending: %v, want ErrInvalidState", err)
	}
	claim(t, s, j, w)
	if err := s.Delete(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, taskq.ErrConcurrencyViolation) {
		t.Fatalf("Delete by stranger: %v, want ErrConcurrencyViolation", err)
	}
	if err := s.Delete(ctx, j.ID, w); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, j.ID); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("Get after Delete: %v", err)
	}
	if busy, _ := s.HasOutstanding(ctx, "cleanup"); busy {
		t.Fatal("deleted job still outstanding")
	}
	if err := s.Delete(ctx, j.ID, w); !errors.Is(err, taskq.ErrJobNotFound) {
		t.Fatalf("second Delete: %v, want ErrJobNotFound", err)
	}
}

// testStaleOwner reaps a reservation out from under its first worker and
// hands the job to a second; the first worker's late resolutions must all
// be refused while the second still owns the record.
func testStaleOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("slow", base())
	j.Timeout = time.Second
	enqueue(t, s, j)

	first, second := id.NewWorkerID(), id.NewWorkerID()
	claim(t, s, j, first)

	reapAt := time.Now().UTC().Add(time.Minute)
	if reaped, err := s.ReapExpired(ctx, reapAt, 0); err != nil || len(reaped) != 1 {
		t.Fatalf("ReapExpired = %d, %v", len(reaped), err)
	}
	got, err := s.Reserve(ctx, job.DefaultQueue, reapAt.Add(time.Minute), 1, second)
	if err != nil || len(got) != 1 {
		t.Fatalf("Reserve by second worker = %d, %v", len(got), err)
	}
	if _, err := s.MarkRunning(ctx, j.ID, second); err != nil {
		t.Fatalf("MarkRunning by second worker: %v", err)
	}

	stale := []struct {
		op string
		fn func() error
	}{
		{"Ack", func() error { return s.Ack(ctx, j.ID, first) }},
		{"Release", func() error { return s.Release(ctx, j.ID, first, time.Second) }},
		{"Retry", func() error { return s.Retry(ctx, j.ID, first, time.Second, "late") }},
		{"Kill", func() error { return s.Kill(ctx, j.ID, first, "late") }},
		{"Delete", func() error { return s.Delete(ctx, j.ID, first) }},
	}
	for _, tc := range stale {
		if err := tc.fn(); !errors.Is(err, taskq.ErrConcurrencyViolation) {
			t.Fatalf("stale %s: %v, want ErrConcurrencyViolation", tc.op, err)
		}
	}

	cur := get(t, s, j.ID)
	if cur.Status != job.StatusRunning || cur.ReservedBy.String() != second.String() || cur.Attempts != 2 {
		t.Fatalf("record after stale resolutions = %s by %s, attempts %d", cur.Status, cur.ReservedBy, cur.Attempts)
	}
	if cur.LastError != "reservation expired" {
		t.Fatalf("LastError = %q, stale Retry leaked through", cur.LastError)
	}
	if err := s.Ack(ctx, j.ID, second); err != nil {
		t.Fatalf("Ack by current owner: %v", err)
	}
}

func testListCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := base()
	a := newJob("mail.send", at)
	b := newJob("mail.send", at.Add(time.Second))
	c := newJob("report.build", at.Add(2*time.Second))
	c.Queue = "reports"
	future := newJob("mail.send", time.Now().UTC().Add(time.Hour))
	enqueue(t, s, a, b, c, future)
	claim(t, s, a, id.NewWorkerID())

	all, err := s.List(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 || all[0].ID.String() != future.ID.String() {
		t.Fatalf("List = %v, want newest first", ids(all))
	}

	pending, _ := s.List(ctx, job.ListOpts{Status: job.StatusPending, Queue: job.DefaultQueue})
	if len(pending) != 2 {
		t.Fatalf("pending default = %v", ids(pending))
	}
	kind, _ := s.List(ctx, job.ListOpts{Kind: "report.build"})
	if len(kind) != 1 || kind[0].ID.String() != c.ID.String() {
		t.Fatalf("by kind = %v", ids(kind))
	}
	paged, _ := s.List(ctx, job.ListOpts{Limit: 2, Offset: 1})
	if len(paged) != 2 || paged[0].ID.String() != all[1].ID.String() {
		t.Fatalf("paged = %v", ids(paged))
	}

	due, err := s.ListDue(ctx, time.Now().UTC(), job.ListOpts{})
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if fmt.Sprint(ids(due)) != fmt.Sprint(ids([]*job.Job{b, c})) {
		t.Fatalf("ListDue = %v", ids(due))
	}
	dueMail, _ := s.ListDue(ctx, time.Now().UTC(), job.ListOpts{Queue: job.DefaultQueue})
	if len(dueMail) != 1 {
		t.Fatalf("ListDue default = %v", ids(dueMail))
	}

	n, err := s.Count(ctx, job.CountOpts{})
	if err != nil || n != 4 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if n, _ := s.Count(ctx, job.CountOpts{Status: job.StatusRunning}); n != 1 {
		t.Fatalf("Count running = %d", n)
	}
	if n, _ := s.Count(ctx, job.CountOpts{Queue: "reports"}); n != 1 {
		t.Fatalf("Count reports = %d", n)
	}
}

func testHasOutstanding(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("sync", base())
	j.Schedule = "nightly"
	enqueue(t, s, j)

	for _, tc := range []struct {
		name string
		want bool
	}{{"nightly", true}, {"hourly", false}} {
		got, err := s.HasOutstanding(ctx, tc.name)
		if err != nil {
			t.Fatalf("HasOutstanding: %v", err)
		}
		if got != tc.want {
			t.Fatalf("HasOutstanding(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}

	w := id.NewWorkerID()
	claim(t, s, j, w)
	if got, _ := s.HasOutstanding(ctx, "nightly"); !got {
		t.Fatal("running job not outstanding")
	}
	if err := s.Ack(ctx, j.ID, w); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.HasOutstanding(ctx, "nightly"); got {
		t.Fatal("finished job still outstanding")
	}
}

func testReapExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := base()
	spare := newJob("spare", at)
	spare.Timeout = time.Second
	spent := newJob("spent", at.Add(time.Millisecond))
	spent.Timeout = time.Second
	spent.MaxAttempts = 1
	fresh := newJob("fresh", at.Add(2*time.Millisecond))
	fresh.Timeout = time.Hour
	enqueue(t, s, spare, spent, fresh)

	w := id.NewWorkerID()
	got, err := s.Reserve(ctx, job.DefaultQueue, time.Now().UTC(), 3, w)
	if err != nil || len(got) != 3 {
		t.Fatalf("Reserve = %d, %v", len(got), err)
	}
	for _, j := range got {
		if _, err := s.MarkRunning(ctx, j.ID, w); err != nil {
			t.Fatal(err)
		}
	}

	reaped, err := s.ReapExpired(ctx, time.Now().UTC().Add(time.Minute), 5*time.Second)
	if err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if len(reaped) != 2 {
		t.Fatalf("reaped %v, want spare and spent", ids(reaped))
	}
	if got := get(t, s, spare.ID); got.Status != job.StatusFailedRetrying || !got.ReservedBy.IsNil() {
		t.Fatalf("spare = %s", got.Status)
	}
	if got := get(t, s, spent.ID); got.Status != job.StatusDead || got.FinishedAt == nil {
		t.Fatalf("spent = %s", got.Status)
	}
	if got := get(t, s, fresh.ID); got.Status != job.StatusRunning {
		t.Fatalf("fresh = %s", got.Status)
	}
	if again, _ := s.ReapExpired(ctx, time.Now().UTC().Add(time.Minute), 5*time.Second); len(again) != 0 {
		t.Fatalf("second reap = %v", ids(again))
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := base()
	older := &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), Kind: "mail.send", Queue: "mail",
		Payload: []byte("x"), Error: "smtp", Attempts: 3, MaxAttempts: 3,
		Timeout: time.Minute, Backoff: time.Second, FailedAt: at,
	}
	newer := &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), Kind: "report.build", Queue: "reports",
		Error: "oom", Attempts: 1, MaxAttempts: 1, Timeout: time.Minute,
		Schedule: "nightly", FailedAt: at.Add(time.Hour),
	}
	for _, e := range []*dlq.Entry{older, newer} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(list) != 2 || list[0].ID.String() != newer.ID.String() {
		t.Fatalf("ListDLQ = %d entries, %v", len(list), err)
	}
	if byQueue, _ := s.ListDLQ(ctx, dlq.ListOpts{Queue: "mail"}); len(byQueue) != 1 {
		t.Fatalf("ListDLQ mail = %d", len(byQueue))
	}
	if byKind, _ := s.ListDLQ(ctx, dlq.ListOpts{Kind: "report.build"}); len(byKind) != 1 {
		t.Fatalf("ListDLQ kind = %d", len(byKind))
	}

	got, err := s.GetDLQ(ctx, older.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.JobID.String() != older.JobID.String() || got.Error != "smtp" || got.Timeout != time.Minute ||
		!got.FailedAt.Equal(at) || string(got.Payload) != "x" {
		t.Fatalf("entry = %+v", got)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, taskq.ErrDLQNotFound) {
		t.Fatalf("GetDLQ unknown: %v", err)
	}

	replayedAt := at.Add(2 * time.Hour)
	if err := s.ReplayDLQ(ctx, older.ID, replayedAt); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	if got, _ := s.GetDLQ(ctx, older.ID); got.ReplayedAt == nil || !got.ReplayedAt.Equal(replayedAt) {
		t.Fatalf("ReplayedAt = %v", got.ReplayedAt)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID(), replayedAt); !errors.Is(err, taskq.ErrDLQNotFound) {
		t.Fatalf("ReplayDLQ unknown: %v", err)
	}

	n, err := s.PurgeDLQ(ctx, at.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PurgeDLQ = %d, %v", n, err)
	}
	if c, _ := s.CountDLQ(ctx); c != 1 {
		t.Fatalf("CountDLQ = %d", c)
	}
}

func testLease(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := id.NewWorkerID(), id.NewWorkerID()

	ok, err := s.AcquireLease(ctx, "scheduler", a, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := s.AcquireLease(ctx, "scheduler", b, time.Minute); ok {
		t.Fatal("second owner acquired a held lease")
	}
	if ok, _ := s.AcquireLease(ctx, "scheduler", a, time.Minute); !ok {
		t.Fatal("holder could not extend")
	}
	if ok, _ := s.AcquireLease(ctx, "other", b, time.Minute); !ok {
		t.Fatal("independent key blocked")
	}

	if err := s.ReleaseLease(ctx, "scheduler", b); err != nil {
		t.Fatalf("ReleaseLease by stranger: %v", err)
	}
	if ok, _ := s.AcquireLease(ctx, "scheduler", b, time.Minute); ok {
		t.Fatal("stranger release freed the lease")
	}
	if err := s.ReleaseLease(ctx, "scheduler", a); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	if ok, _ := s.AcquireLease(ctx, "scheduler", b, 50*time.Millisecond); !ok {
		t.Fatal("released lease not acquirable")
	}
	time.Sleep(100 * time.Millisecond)
	if ok, _ := s.AcquireLease(ctx, "scheduler", a, time.Minute); !ok {
		t.Fatal("expired lease not acquirable")
	}
}
