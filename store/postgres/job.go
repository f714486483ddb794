package postgres

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

const jobColumns = `id, kind, queue, payload, status, attempts, max_attempts,
	timeout_ms, backoff_ms, available_at, created_at, updated_at,
	schedule, last_error, reserved_by, reserved_at, finished_at`

// Enqueue persists a new job. An empty status becomes pending.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	status := j.Status
	if status == "" {
		status = job.StatusPending
	}
	updated := j.UpdatedAt
	if updated.IsZero() {
		updated = j.CreatedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO taskq_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		j.ID.String(), j.Kind, j.Queue, j.Payload, string(status), j.Attempts, j.MaxAttempts,
		j.Timeout.Milliseconds(), j.Backoff.Milliseconds(), j.AvailableAt.UTC(), j.CreatedAt.UTC(), updated.UTC(),
		j.Schedule, j.LastError, workerString(j.ReservedBy), j.ReservedAt, j.FinishedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return taskq.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskq/postgres: enqueue job: %w", err)
	}
	return nil
}

// Reserve claims up to limit due jobs with SELECT FOR UPDATE SKIP LOCKED.
func (s *Store) Reserve(ctx context.Context, queue string, now time.Time, limit int, workerID id.WorkerID) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM taskq_jobs
			WHERE queue = $1
			  AND status IN ('pending', 'failed_retrying')
			  AND available_at <= $2
			ORDER BY available_at ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		UPDATE taskq_jobs AS j
		SET status = 'reserved', reserved_by = $4, reserved_at = $2, updated_at = $2
		FROM due
		WHERE j.id = due.id
		RETURNING `+prefixed("j.", jobColumns),
		queue, now.UTC(), limit, workerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("taskq/postgres: reserve jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].AvailableAt.Equal(jobs[b].AvailableAt) {
			return jobs[a].AvailableAt.Before(jobs[b].AvailableAt)
		}
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID.String() < jobs[b].ID.String()
	})
	return jobs, nil
}

// MarkRunning moves a job reserved by workerID to running and counts the
// attempt.
func (s *Store) MarkRunning(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE taskq_jobs
		SET status = 'running', attempts = attempts + 1, updated_at = $3
		WHERE id = $1 AND status = 'reserved' AND reserved_by = $2 AND attempts < max_attempts
		RETURNING `+jobColumns,
		jobID.String(), workerID.String(), s.now().UTC(),
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("taskq/postgres: mark running: %w", err)
	}

	cur, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch {
	case cur.Status != job.StatusReserved:
		return nil, taskq.ErrInvalidState
	case cur.ReservedBy.String() != workerID.String():
		return nil, taskq.ErrConcurrencyViolation
	default:
		return nil, taskq.ErrBudgetSpent
	}
}

// Ack marks a job owned by workerID succeeded, or deletes it with
// WithPurgeOnAck.
func (s *Store) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	if s.purgeOnAck {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM taskq_jobs WHERE id = $1 AND status IN ('reserved', 'running') AND reserved_by = $2`,
			jobID.String(), workerID.String(),
		)
		if err != nil {
			return fmt.Errorf("taskq/postgres: ack job: %w", err)
		}
		return s.owned(ctx, jobID, tag.RowsAffected())
	}

	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET status = 'succeeded', finished_at = $3, updated_at = $3,
		    reserved_by = '', reserved_at = NULL
		WHERE id = $1 AND status IN ('reserved', 'running') AND reserved_by = $2`,
		jobID.String(), workerID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: ack job: %w", err)
	}
	return s.owned(ctx, jobID, tag.RowsAffected())
}

// Release returns an owned job to pending and rolls back a counted attempt.
func (s *Store) Release(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET status = 'pending',
		    attempts = CASE WHEN status = 'running' AND attempts > 0 THEN attempts - 1 ELSE attempts END,
		    available_at = GREATEST(available_at, $3),
		    updated_at = $4,
		    reserved_by = '', reserved_at = NULL
		WHERE id = $1 AND status IN ('reserved', 'running') AND reserved_by = $2`,
		jobID.String(), workerID.String(), now.Add(delay), now,
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: release job: %w", err)
	}
	return s.owned(ctx, jobID, tag.RowsAffected())
}

// Retry records a failed attempt.
func (s *Store) Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET status = 'failed_retrying',
		    available_at = GREATEST(available_at, $3),
		    last_error = $4,
		    updated_at = $5,
		    reserved_by = '', reserved_at = NULL
		WHERE id = $1 AND status IN ('reserved', 'running') AND reserved_by = $2`,
		jobID.String(), workerID.String(), now.Add(delay), lastErr, now,
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: retry job: %w", err)
	}
	return s.owned(ctx, jobID, tag.RowsAffected())
}

// Kill moves a job owned by workerID to dead.
func (s *Store) Kill(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lastErr string) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET status = 'dead', last_error = $3, finished_at = $4, updated_at = $4,
		    reserved_by = '', reserved_at = NULL
		WHERE id = $1 AND status IN ('reserved', 'running') AND reserved_by = $2`,
		jobID.String(), workerID.String(), lastErr, now,
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: kill job: %w", err)
	}
	return s.owned(ctx, jobID, tag.RowsAffected())
}

// Cancel moves an unowned, reservable job to dead.
func (s *Store) Cancel(ctx context.Context, jobID id.JobID, reason string) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET status = 'dead', last_error = $2, finished_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'failed_retrying')`,
		jobID.String(), reason, now,
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: cancel job: %w", err)
	}
	return s.affected(ctx, jobID, tag.RowsAffected())
}

// Delete removes a job owned by workerID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM taskq_jobs WHERE id = $1 AND status IN ('reserved', 'running') AND reserved_by = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: delete job: %w", err)
	}
	return s.owned(ctx, jobID, tag.RowsAffected())
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM taskq_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/postgres: get job: %w", err)
	}
	return j, nil
}

// ListDue returns reservable jobs due at cutoff in reservation order.
func (s *Store) ListDue(ctx context.Context, cutoff time.Time, opts job.ListOpts) ([]*job.Job, error) {
	w := where{}
	w.add("status IN ('pending', 'failed_retrying')")
	w.add("available_at <= $%d", cutoff.UTC())
	if opts.Queue != "" {
		w.add("queue = $%d", opts.Queue)
	}
	if opts.Kind != "" {
		w.add("kind = $%d", opts.Kind)
	}
	return s.query(ctx, "list due jobs",
		`SELECT `+jobColumns+` FROM taskq_jobs`+w.sql()+
			` ORDER BY available_at ASC, created_at ASC, id ASC`+w.page(opts.Limit, opts.Offset),
		w.args...)
}

// List returns matching jobs, newest first.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	w := where{}
	if opts.Queue != "" {
		w.add("queue = $%d", opts.Queue)
	}
	if opts.Status != "" {
		w.add("status = $%d", string(opts.Status))
	}
	if opts.Kind != "" {
		w.add("kind = $%d", opts.Kind)
	}
	return s.query(ctx, "list jobs",
		`SELECT `+jobColumns+` FROM taskq_jobs`+w.sql()+
			` ORDER BY created_at DESC, id DESC`+w.page(opts.Limit, opts.Offset),
		w.args...)
}

// Count returns the number of matching jobs.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	w := where{}
	if opts.Queue != "" {
		w.add("queue = $%d", opts.Queue)
	}
	if opts.Status != "" {
		w.add("status = $%d", string(opts.Status))
	}
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM taskq_jobs`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("taskq/postgres: count jobs: %w", err)
	}
	return n, nil
}

// HasOutstanding reports whether a non-terminal job carries schedule.
func (s *Store) HasOutstanding(ctx context.Context, schedule string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM taskq_jobs
			WHERE schedule = $1 AND status NOT IN ('succeeded', 'dead')
		)`,
		schedule,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("taskq/postgres: has outstanding: %w", err)
	}
	return exists, nil
}

// ReapExpired recovers jobs whose reservation outlived timeout plus grace.
func (s *Store) ReapExpired(ctx context.Context, now time.Time, grace time.Duration) ([]*job.Job, error) {
	return s.query(ctx, "reap expired", `
		UPDATE taskq_jobs
		SET status = CASE WHEN attempts < max_attempts THEN 'failed_retrying' ELSE 'dead' END,
		    available_at = CASE WHEN attempts < max_attempts THEN GREATEST(available_at, $1::timestamptz) ELSE available_at END,
		    finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE $1::timestamptz END,
		    last_error = 'reservation expired',
		    updated_at = $1,
		    reserved_by = '', reserved_at = NULL
		WHERE status IN ('reserved', 'running')
		  AND reserved_at + (timeout_ms + $2::bigint) * INTERVAL '1 millisecond' < $1
		RETURNING `+jobColumns,
		now.UTC(), grace.Milliseconds())
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// affected turns a zero-row transition into the error the caller expects.
func (s *Store) affected(ctx context.Context, jobID id.JobID, n int64) error {
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}
	return taskq.ErrInvalidState
}

// owned explains why an owner-guarded statement matched no row.
func (s *Store) owned(ctx context.Context, jobID id.JobID, n int64) error {
	if n > 0 {
		return nil
	}
	cur, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !cur.Status.Owned() {
		return taskq.ErrInvalidState
	}
	return taskq.ErrConcurrencyViolation
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("taskq/postgres: %s: %w", op, err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// where builds a positional-parameter WHERE clause.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg ...any) {
	if len(arg) == 0 {
		w.conds = append(w.conds, cond)
		return
	}
	w.args = append(w.args, arg[0])
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
	return b.String()
}

func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func workerString(w id.WorkerID) string {
	if w.IsNil() {
		return ""
	}
	return w.String()
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		status    string
		timeoutMs int64
		backoffMs int64
		workerStr string
	)
	err := row.Scan(
		&idStr, &j.Kind, &j.Queue, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&timeoutMs, &backoffMs, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt,
		&j.Schedule, &j.LastError, &workerStr, &j.ReservedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(status)
	j.Timeout = time.Duration(timeoutMs) * time.Millisecond
	j.Backoff = time.Duration(backoffMs) * time.Millisecond
	j.AvailableAt = j.AvailableAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.ReservedBy = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("taskq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
