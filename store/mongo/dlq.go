package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/id"
)

// PushDLQ adds a dead job snapshot to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.dlq().InsertOne(ctx, toDLQModel(entry)); err != nil {
		return fmt.Errorf("taskq/mongo: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}
	newest := bson.D{{Key: "failed_at", Value: -1}, {Key: "_id", Value: -1}}
	cursor, err := s.dlq().Find(ctx, filter, findOpts(newest, opts.Offset, opts.Limit))
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: list dlq: %w", err)
	}

	var models []dlqModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("taskq/mongo: decode dlq: %w", err)
	}
	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromDLQModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.dlq().FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, taskq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("taskq/mongo: get dlq: %w", err)
	}
	return fromDLQModel(&m)
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	res, err := s.dlq().UpdateOne(ctx,
		bson.M{"_id": entryID.String()},
		bson.M{"$set": bson.M{"replayed_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("taskq/mongo: replay dlq: %w", err)
	}
	if res.MatchedCount == 0 {
		return taskq.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.dlq().DeleteMany(ctx, bson.M{"failed_at": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("taskq/mongo: purge dlq: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.dlq().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("taskq/mongo: count dlq: %w", err)
	}
	return n, nil
}
