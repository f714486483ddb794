// Package memory provides an in-process implementation of store.Store.
// All state lives in maps guarded by a single mutex, which makes every
// operation trivially atomic. Intended for tests, development and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/cluster"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory store.Store. Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Job
	dlqs   map[string]*dlq.Entry
	leases map[string]*cluster.Lease

	now        func() time.Time
	purgeOnAck bool
	closed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used by resolution operations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPurgeOnAck removes records as soon as they succeed instead of keeping
// them with status succeeded.
func WithPurgeOnAck() Option {
	return func(s *Store) { s.purgeOnAck = true }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:   make(map[string]*job.Job),
		dlqs:   make(map[string]*dlq.Entry),
		leases: make(map[string]*cluster.Lease),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping fails once the store is closed.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return taskq.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept for inspection.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// Enqueue persists a copy of j. An empty status becomes pending.
func (s *Store) Enqueue(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return taskq.ErrJobAlreadyExists
	}
	cp := j.Clone()
	if cp.Status == "" {
		cp.Status = job.StatusPending
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.jobs[key] = cp
	return nil
}

// Reserve claims up to limit due records of queue for workerID.
func (s *Store) Reserve(_ context.Context, queue string, now time.Time, limit int, workerID id.WorkerID) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*job.Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.Due(now) {
			due = append(due, j)
		}
	}
	sortDue(due)
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*job.Job, len(due))
	for i, j := range due {
		at := now
		j.Status = job.StatusReserved
		j.ReservedBy = workerID
		j.ReservedAt = &at
		j.UpdatedAt = now
		out[i] = j.Clone()
	}
	return out, nil
}

// MarkRunning moves a record reserved by workerID to running.
func (s *Store) MarkRunning(_ context.Context, jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusReserved {
		return nil, taskq.ErrInvalidState
	}
	if j.ReservedBy.String() != workerID.String() {
		return nil, taskq.ErrConcurrencyViolation
	}
	if !j.BudgetLeft() {
		return nil, taskq.ErrBudgetSpent
	}
	j.Attempts++
	j.Status = job.StatusRunning
	j.UpdatedAt = s.now().UTC()
	return j.Clone(), nil
}

// Ack marks a record owned by workerID succeeded.
func (s *Store) Ack(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	if s.purgeOnAck {
		delete(s.jobs, jobID.String())
		return nil
	}
	now := s.now().UTC()
	j.Status = job.StatusSucceeded
	j.FinishedAt = &now
	j.UpdatedAt = now
	clearReservation(j)
	return nil
}

// Release returns an owned record to pending, rolling back the attempt
// counted when it entered running.
func (s *Store) Release(_ context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if j.Status == job.StatusRunning && j.Attempts > 0 {
		j.Attempts--
	}
	j.Status = job.StatusPending
	j.AvailableAt = job.NextAvailable(j.AvailableAt, now, delay)
	j.UpdatedAt = now
	clearReservation(j)
	return nil
}

// Retry records a failed attempt and gates the next one by delay.
func (s *Store) Retry(_ context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	j.Status = job.StatusFailedRetrying
	j.AvailableAt = job.NextAvailable(j.AvailableAt, now, delay)
	j.LastError = lastErr
	j.UpdatedAt = now
	clearReservation(j)
	return nil
}

// Kill moves a record owned by workerID to dead.
func (s *Store) Kill(_ context.Context, jobID id.JobID, workerID id.WorkerID, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	s.bury(j, lastErr)
	return nil
}

// Cancel moves a record nobody owns to dead.
func (s *Store) Cancel(_ context.Context, jobID id.JobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	if !j.Status.Reservable() {
		return taskq.ErrInvalidState
	}
	s.bury(j, reason)
	return nil
}

// Delete removes a record owned by workerID.
func (s *Store) Delete(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(jobID, workerID); err != nil {
		return err
	}
	delete(s.jobs, jobID.String())
	return nil
}

// Get returns a copy of a record.
func (s *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// ListDue returns reservable records due at cutoff in reservation order.
func (s *Store) ListDue(_ context.Context, cutoff time.Time, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*job.Job
	for _, j := range s.jobs {
		if !j.Due(cutoff) || !matches(j, opts.Queue, "", opts.Kind) {
			continue
		}
		due = append(due, j)
	}
	sortDue(due)
	return page(cloneAll(due), opts.Offset, opts.Limit), nil
}

// List returns matching records, newest first.
func (s *Store) List(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if matches(j, opts.Queue, opts.Status, opts.Kind) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID.String() > out[b].ID.String()
	})
	return page(cloneAll(out), opts.Offset, opts.Limit), nil
}

// Count returns the number of matching records.
func (s *Store) Count(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, j := range s.jobs {
		if matches(j, opts.Queue, opts.Status, "") {
			n++
		}
	}
	return n, nil
}

// HasOutstanding reports whether a non-terminal record carries schedule.
func (s *Store) HasOutstanding(_ context.Context, schedule string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, j := range s.jobs {
		if j.Schedule == schedule && !j.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// ReapExpired recovers records whose reservation outlived timeout+grace.
func (s *Store) ReapExpired(_ context.Context, now time.Time, grace time.Duration) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if !j.Expired(now, grace) {
			continue
		}
		j.LastError = "reservation expired"
		j.UpdatedAt = now
		if j.BudgetLeft() {
			j.Status = job.StatusFailedRetrying
			j.AvailableAt = job.NextAvailable(j.AvailableAt, now, 0)
		} else {
			finished := now
			j.Status = job.StatusDead
			j.FinishedAt = &finished
		}
		clearReservation(j)
		out = append(out, j.Clone())
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// DLQ store
// ──────────────────────────────────────────────────

// PushDLQ stores a copy of e.
func (s *Store) PushDLQ(_ context.Context, e *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.dlqs[e.ID.String()] = &cp
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*dlq.Entry, 0, len(s.dlqs))
	for _, e := range s.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].FailedAt.Equal(out[b].FailedAt) {
			return out[a].FailedAt.After(out[b].FailedAt)
		}
		return out[a].ID.String() > out[b].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// GetDLQ returns a copy of an entry.
func (s *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqs[entryID.String()]
	if !ok {
		return nil, taskq.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ stamps ReplayedAt.
func (s *Store) ReplayDLQ(_ context.Context, entryID id.DLQID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqs[entryID.String()]
	if !ok {
		return taskq.ErrDLQNotFound
	}
	e.ReplayedAt = &at
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, e := range s.dlqs {
		if e.FailedAt.Before(before) {
			delete(s.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Cluster store
// ──────────────────────────────────────────────────

// AcquireLease takes or extends key for owner.
func (s *Store) AcquireLease(_ context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cur := s.leases[key]
	if cur.Held(now) && cur.Owner.String() != owner.String() {
		return false, nil
	}
	s.leases[key] = &cluster.Lease{Key: key, Owner: owner, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLease frees key if owner holds it.
func (s *Store) ReleaseLease(_ context.Context, key string, owner id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.leases[key]; ok && cur.Owner.String() == owner.String() {
		delete(s.leases, key)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Store) lookup(jobID id.JobID) (*job.Job, error) {
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, taskq.ErrJobNotFound
	}
	return j, nil
}

func (s *Store) owned(jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	j, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if !j.Status.Owned() {
		return nil, taskq.ErrInvalidState
	}
	if j.ReservedBy.String() != workerID.String() {
		return nil, taskq.ErrConcurrencyViolation
	}
	return j, nil
}

func (s *Store) bury(j *job.Job, lastErr string) {
	now := s.now().UTC()
	j.Status = job.StatusDead
	j.LastError = lastErr
	j.FinishedAt = &now
	j.UpdatedAt = now
	clearReservation(j)
}

func clearReservation(j *job.Job) {
	j.ReservedBy = id.Nil
	j.ReservedAt = nil
}

func matches(j *job.Job, queue string, status job.Status, kind string) bool {
	if queue != "" && j.Queue != queue {
		return false
	}
	if status != "" && j.Status != status {
		return false
	}
	if kind != "" && j.Kind != kind {
		return false
	}
	return true
}

func sortDue(js []*job.Job) {
	sort.Slice(js, func(a, b int) bool {
		if !js[a].AvailableAt.Equal(js[b].AvailableAt) {
			return js[a].AvailableAt.Before(js[b].AvailableAt)
		}
		if !js[a].CreatedAt.Equal(js[b].CreatedAt) {
			return js[a].CreatedAt.Before(js[b].CreatedAt)
		}
		return js[a].ID.String() < js[b].ID.String()
	})
}

func cloneAll(js []*job.Job) []*job.Job {
	out := make([]*job.Job, len(js))
	for i, j := range js {
		out[i] = j.Clone()
	}
	return out
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
