package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// Service records dead jobs and replays them.
type Service struct {
	store    Store
	jobStore job.Store
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a DLQ service. jobStore receives replayed jobs.
func NewService(store Store, jobStore job.Store, opts ...Option) *Service {
	s := &Service{store: store, jobStore: jobStore, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Push snapshots j with its final error.
func (s *Service) Push(ctx context.Context, j *job.Job, cause error) (*Entry, error) {
	msg := j.LastError
	if cause != nil {
		msg = cause.Error()
	}
	e := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		Kind:        j.Kind,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Error:       msg,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Timeout:     j.Timeout,
		Backoff:     j.Backoff,
		Schedule:    j.Schedule,
		FailedAt:    s.now().UTC(),
	}
	if err := s.store.PushDLQ(ctx, e); err != nil {
		return nil, fmt.Errorf("dlq: push %s: %w", j.ID, err)
	}
	return e, nil
}

// Replay enqueues a fresh pending job built from the entry, with a new id
// and a full attempt budget, then stamps the entry as replayed.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	e, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Kind:        e.Kind,
		Queue:       e.Queue,
		Payload:     e.Payload,
		Status:      job.StatusPending,
		MaxAttempts: e.MaxAttempts,
		Timeout:     e.Timeout,
		Backoff:     e.Backoff,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if j.MaxAttempts < 1 {
		j.MaxAttempts = job.DefaultMaxAttempts
	}
	if j.Timeout <= 0 {
		j.Timeout = job.DefaultTimeout
	}
	if err := s.jobStore.Enqueue(ctx, j); err != nil {
		return nil, fmt.Errorf("dlq: replay %s: %w", entryID, err)
	}
	if err := s.store.ReplayDLQ(ctx, entryID, now); err != nil {
		return j, fmt.Errorf("dlq: mark replayed %s: %w", entryID, err)
	}
	return j, nil
}

// Purge removes entries that failed more than olderThan ago.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.PurgeDLQ(ctx, s.now().Add(-olderThan))
}

// Store returns the underlying entry store for direct reads.
func (s *Service) Store() Store { return s.store }
