package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/id"
)

const dlqColumns = `id, job_id, kind, queue, payload, error, attempts, max_attempts,
	timeout_ms, backoff_ms, schedule, failed_at, replayed_at`

// PushDLQ adds a dead job snapshot to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO taskq_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID.String(), e.JobID.String(), e.Kind, e.Queue, e.Payload, e.Error,
		e.Attempts, e.MaxAttempts, e.Timeout.Milliseconds(), e.Backoff.Milliseconds(),
		e.Schedule, e.FailedAt.UTC(), e.ReplayedAt,
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	w := where{}
	if opts.Queue != "" {
		w.add("queue = $%d", opts.Queue)
	}
	if opts.Kind != "" {
		w.add("kind = $%d", opts.Kind)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+dlqColumns+` FROM taskq_dlq`+w.sql()+
			` ORDER BY failed_at DESC, id DESC`+w.page(opts.Limit, opts.Offset),
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("taskq/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("taskq/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskq/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM taskq_dlq WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanDLQEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("taskq/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ stamps ReplayedAt.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE taskq_dlq SET replayed_at = $2 WHERE id = $1`,
		entryID.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskq.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM taskq_dlq WHERE failed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("taskq/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM taskq_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("taskq/postgres: count dlq: %w", err)
	}
	return n, nil
}

// scanDLQEntry scans a single DLQ row.
func scanDLQEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		idStr     string
		jobIDStr  string
		timeoutMs int64
		backoffMs int64
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.Kind, &e.Queue, &e.Payload, &e.Error,
		&e.Attempts, &e.MaxAttempts, &timeoutMs, &backoffMs,
		&e.Schedule, &e.FailedAt, &e.ReplayedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Timeout = time.Duration(timeoutMs) * time.Millisecond
	e.Backoff = time.Duration(backoffMs) * time.Millisecond
	e.FailedAt = e.FailedAt.UTC()

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskq/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, parseErr := id.ParseJobID(jobIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskq/postgres: parse job id %q: %w", jobIDStr, parseErr)
	}
	e.JobID = parsedJobID

	return &e, nil
}
