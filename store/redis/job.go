package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// Enqueue persists a new job. An empty status becomes pending.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	cp := j.Clone()
	if cp.Status == "" {
		cp.Status = job.StatusPending
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	jobID := cp.ID.String()

	var readyScore, ownedScore string
	switch {
	case cp.Status.Reservable():
		readyScore = strconv.FormatInt(ms(cp.AvailableAt), 10)
	case cp.Status.Owned() && cp.ReservedAt != nil:
		ownedScore = strconv.FormatInt(ms(cp.ReservedAt.Add(cp.Timeout)), 10)
	}

	keys := []string{s.jobKey(jobID), s.jobIDsKey(), s.readyKey(cp.Queue), s.ownedKey()}
	if cp.Schedule != "" && !cp.Status.Terminal() {
		keys = append(keys, s.scheduleKey(cp.Schedule))
	}
	args := append([]any{jobID, readyScore, ownedScore}, jobToFields(cp)...)

	created, err := enqueueScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("taskq/redis: enqueue job: %w", err)
	}
	if created == 0 {
		return taskq.ErrJobAlreadyExists
	}
	return nil
}

// Reserve claims up to limit due jobs of queue in one script call.
func (s *Store) Reserve(ctx context.Context, queue string, now time.Time, limit int, workerID id.WorkerID) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	res, err := reserveScript.Run(ctx, s.client,
		[]string{s.readyKey(queue), s.ownedKey()},
		ms(now), limit, workerID.String(), s.prefix+"job:",
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: reserve jobs: %w", err)
	}
	jobs := make([]*job.Job, 0, len(res))
	for _, raw := range res {
		j, err := mapToJob(pairs(raw))
		if err != nil {
			return nil, fmt.Errorf("taskq/redis: reserve jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// MarkRunning moves a job reserved by workerID to running and counts the
// attempt.
func (s *Store) MarkRunning(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	res, err := markRunningScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID.String())},
		workerID.String(), ms(s.now()),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: mark running: %w", err)
	}
	status, _ := res[0].(string)
	if err := scriptError(status); err != nil {
		return nil, err
	}
	j, err := mapToJob(pairs(res[1]))
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: mark running: %w", err)
	}
	return j, nil
}

// Ack marks a job owned by workerID succeeded, or deletes it with
// WithPurgeOnAck.
func (s *Store) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	return s.transition(ctx, "ack", jobID, workerID, 0, "")
}

// Release returns an owned job to pending and rolls back a counted attempt.
func (s *Store) Release(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) error {
	return s.transition(ctx, "release", jobID, workerID, delay, "")
}

// Retry records a failed attempt and gates the next one by delay.
func (s *Store) Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error {
	return s.transition(ctx, "retry", jobID, workerID, delay, lastErr)
}

// Kill moves a job owned by workerID to dead.
func (s *Store) Kill(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lastErr string) error {
	return s.transition(ctx, "kill", jobID, workerID, 0, lastErr)
}

// Cancel moves an unowned, reservable job to dead.
func (s *Store) Cancel(ctx context.Context, jobID id.JobID, reason string) error {
	return s.transition(ctx, "cancel", jobID, id.Nil, 0, reason)
}

// Delete removes a job owned by workerID and its index entries.
func (s *Store) Delete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	return s.transition(ctx, "delete", jobID, workerID, 0, "")
}

func (s *Store) transition(ctx context.Context, op string, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error {
	purge := "0"
	if s.purgeOnAck {
		purge = "1"
	}
	key := jobID.String()
	status, err := transitionScript.Run(ctx, s.client,
		[]string{s.jobKey(key), s.ownedKey(), s.jobIDsKey()},
		op, ms(s.now()), delay.Milliseconds(), lastErr, s.prefix, purge, key, workerID.String(),
	).Text()
	if err != nil {
		return fmt.Errorf("taskq/redis: %s job: %w", op, err)
	}
	return scriptError(status)
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m, err := s.client.HGetAll(ctx, s.jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: get job: %w", err)
	}
	if len(m) == 0 {
		return nil, taskq.ErrJobNotFound
	}
	return mapToJob(m)
}

// ListDue returns reservable jobs due at cutoff in reservation order.
func (s *Store) ListDue(ctx context.Context, cutoff time.Time, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var due []*job.Job
	for _, j := range all {
		if j.Due(cutoff) && matches(j, opts.Queue, "", opts.Kind) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].AvailableAt.Equal(due[b].AvailableAt) {
			return due[a].AvailableAt.Before(due[b].AvailableAt)
		}
		if !due[a].CreatedAt.Equal(due[b].CreatedAt) {
			return due[a].CreatedAt.Before(due[b].CreatedAt)
		}
		return due[a].ID.String() < due[b].ID.String()
	})
	return page(due, opts.Offset, opts.Limit), nil
}

// List returns jobs matching opts, newest first.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range all {
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
	return page(out, opts.Offset, opts.Limit), nil
}

// Count returns the number of jobs matching opts.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Queue == "" && opts.Status == "" {
		n, err := s.client.SCard(ctx, s.jobIDsKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("taskq/redis: count jobs: %w", err)
		}
		return n, nil
	}
	all, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, j := range all {
		if matches(j, opts.Queue, opts.Status, "") {
			n++
		}
	}
	return n, nil
}

// HasOutstanding reports whether a non-terminal job carries schedule.
func (s *Store) HasOutstanding(ctx context.Context, schedule string) (bool, error) {
	n, err := s.client.SCard(ctx, s.scheduleKey(schedule)).Result()
	if err != nil {
		return false, fmt.Errorf("taskq/redis: has outstanding: %w", err)
	}
	return n > 0, nil
}

// ReapExpired recovers owned jobs whose reservation outlived timeout+grace.
func (s *Store) ReapExpired(ctx context.Context, now time.Time, grace time.Duration) ([]*job.Job, error) {
	res, err := reapScript.Run(ctx, s.client,
		[]string{s.ownedKey()},
		ms(now), ms(now.Add(-grace)), s.prefix, "reservation expired",
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: reap expired: %w", err)
	}
	jobs := make([]*job.Job, 0, len(res))
	for _, raw := range res {
		j, err := mapToJob(pairs(raw))
		if err != nil {
			return nil, fmt.Errorf("taskq/redis: reap expired: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// scan loads every job with one pipelined HGETALL per member of the jobs
// set. Listing is an admin path; the hot path never scans.
func (s *Store) scan(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.jobIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: list job ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	pipe := s.client.Pipeline()
	for i, jobID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(jobID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("taskq/redis: list jobs: %w", err)
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		j, err := mapToJob(m)
		if err != nil {
			s.logger.Warn("taskq/redis: skipping undecodable job", "error", err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func scriptError(status string) error {
	switch status {
	case "ok":
		return nil
	case "not_found":
		return taskq.ErrJobNotFound
	case "invalid_state":
		return taskq.ErrInvalidState
	case "concurrency":
		return taskq.ErrConcurrencyViolation
	case "budget":
		return taskq.ErrBudgetSpent
	default:
		return fmt.Errorf("taskq/redis: unexpected script result %q", status)
	}
}

func jobToFields(j *job.Job) []any {
	fields := []any{
		"id", j.ID.String(),
		"kind", j.Kind,
		"queue", j.Queue,
		"payload", string(j.Payload),
		"status", string(j.Status),
		"attempts", j.Attempts,
		"max_attempts", j.MaxAttempts,
		"timeout_ms", j.Timeout.Milliseconds(),
		"backoff_ms", j.Backoff.Milliseconds(),
		"available_at", ms(j.AvailableAt),
		"created_at", ms(j.CreatedAt),
		"updated_at", ms(j.UpdatedAt),
		"schedule", j.Schedule,
		"last_error", j.LastError,
	}
	if !j.ReservedBy.IsNil() {
		fields = append(fields, "reserved_by", j.ReservedBy.String())
	}
	if j.ReservedAt != nil {
		fields = append(fields, "reserved_at", ms(*j.ReservedAt))
	}
	if j.FinishedAt != nil {
		fields = append(fields, "finished_at", ms(*j.FinishedAt))
	}
	return fields
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jobID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	j := &job.Job{
		ID:        jobID,
		Kind:      m["kind"],
		Queue:     m["queue"],
		Payload:   []byte(m["payload"]),
		Status:    job.Status(m["status"]),
		Schedule:  m["schedule"],
		LastError: m["last_error"],
	}
	j.Attempts, _ = strconv.Atoi(m["attempts"])
	j.MaxAttempts, _ = strconv.Atoi(m["max_attempts"])
	j.Timeout = time.Duration(parseInt(m["timeout_ms"])) * time.Millisecond
	j.Backoff = time.Duration(parseInt(m["backoff_ms"])) * time.Millisecond
	j.AvailableAt = fromMs(parseInt(m["available_at"]))
	j.CreatedAt = fromMs(parseInt(m["created_at"]))
	j.UpdatedAt = fromMs(parseInt(m["updated_at"]))

	if v := m["reserved_by"]; v != "" {
		if j.ReservedBy, err = id.ParseWorkerID(v); err != nil {
			return nil, fmt.Errorf("parse reserved_by: %w", err)
		}
	}
	if v, ok := m["reserved_at"]; ok && v != "" {
		t := fromMs(parseInt(v))
		j.ReservedAt = &t
	}
	if v, ok := m["finished_at"]; ok && v != "" {
		t := fromMs(parseInt(v))
		j.FinishedAt = &t
	}
	return j, nil
}

// pairs turns an HGETALL reply returned from a script into a map.
func pairs(v any) map[string]string {
	flat, _ := v.([]any)
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		val, _ := flat[i+1].(string)
		m[k] = val
	}
	return m
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
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
