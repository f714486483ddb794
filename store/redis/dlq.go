package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/id"
)

// PushDLQ adds a dead job snapshot to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.dlqKey(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, s.dlqIndexKey(), goredis.Z{Score: float64(ms(entry.FailedAt)), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskq/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest first. Filters are applied client-side.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, s.dlqIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, s.dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			s.logger.Warn("taskq/redis: skipping undecodable dlq entry", "entry_id", eID, "error", convErr)
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		entries = append(entries, e)
	}
	return page(entries, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, taskq.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	key := s.dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("taskq/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return taskq.ErrDLQNotFound
	}
	if err := s.client.HSet(ctx, key, "replayed_at", ms(at)).Err(); err != nil {
		return fmt.Errorf("taskq/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dlqIndexKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(ms(before), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("taskq/redis: purge dlq scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	members := make([]any, len(ids))
	for i, eID := range ids {
		pipe.Del(ctx, s.dlqKey(eID))
		members[i] = eID
	}
	pipe.ZRem(ctx, s.dlqIndexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("taskq/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.dlqIndexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("taskq/redis: count dlq: %w", err)
	}
	return n, nil
}

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"kind":         e.Kind,
		"queue":        e.Queue,
		"payload":      string(e.Payload),
		"error":        e.Error,
		"attempts":     e.Attempts,
		"max_attempts": e.MaxAttempts,
		"timeout_ms":   e.Timeout.Milliseconds(),
		"backoff_ms":   e.Backoff.Milliseconds(),
		"schedule":     e.Schedule,
		"failed_at":    ms(e.FailedAt),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = ms(*e.ReplayedAt)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: parse dlq id: %w", err)
	}
	jobID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: parse dlq job id: %w", err)
	}
	e := &dlq.Entry{
		ID:       entryID,
		JobID:    jobID,
		Kind:     m["kind"],
		Queue:    m["queue"],
		Payload:  []byte(m["payload"]),
		Error:    m["error"],
		Schedule: m["schedule"],
		Timeout:  time.Duration(parseInt(m["timeout_ms"])) * time.Millisecond,
		Backoff:  time.Duration(parseInt(m["backoff_ms"])) * time.Millisecond,
		FailedAt: fromMs(parseInt(m["failed_at"])),
	}
	e.Attempts, _ = strconv.Atoi(m["attempts"])
	e.MaxAttempts, _ = strconv.Atoi(m["max_attempts"])
	if v := m["replayed_at"]; v != "" {
		t := fromMs(parseInt(v))
		e.ReplayedAt = &t
	}
	return e, nil
}
