package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskq/store"
)

// Collection name constants.
const (
	colJobs   = "taskq_jobs"
	colDLQ    = "taskq_dlq"
	colLeases = "taskq_leases"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database. The caller owns the
// client lifecycle; Store never disconnects it.
type Store struct {
	db         *mongod.Database
	logger     *slog.Logger
	now        func() time.Time
	purgeOnAck bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source used by resolution operations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPurgeOnAck deletes jobs when they succeed instead of keeping them.
func WithPurgeOnAck() Option {
	return func(s *Store) { s.purgeOnAck = true }
}

// New creates a MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database { return s.db }

// Migrate creates indexes for all taskq collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("taskq/mongo: migrate %s indexes: %w", col, err)
		}
	}
	s.logger.Debug("taskq/mongo: indexes ensured")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error { return nil }

func (s *Store) jobs() *mongod.Collection   { return s.db.Collection(colJobs) }
func (s *Store) dlq() *mongod.Collection    { return s.db.Collection(colDLQ) }
func (s *Store) leases() *mongod.Collection { return s.db.Collection(colLeases) }

func (s *Store) clock() time.Time { return s.now().UTC().Truncate(time.Millisecond) }

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for all taskq collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Reserve index: queue + status + available_at.
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "status", Value: 1},
				{Key: "available_at", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			// Reaper index.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "reserved_at", Value: 1},
			}},
			// Overlap lookup for recurring definitions.
			{Keys: bson.D{
				{Key: "schedule", Value: 1},
				{Key: "status", Value: 1},
			}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colDLQ: {
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "failed_at", Value: -1},
			}},
			{Keys: bson.D{{Key: "failed_at", Value: -1}}},
		},
		colLeases: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
	}
}

// findOpts builds sorted, paginated find options.
func findOpts(sort bson.D, offset, limit int) *options.FindOptionsBuilder {
	o := options.Find().SetSort(sort)
	if offset > 0 {
		o.SetSkip(int64(offset))
	}
	if limit > 0 {
		o.SetLimit(int64(limit))
	}
	return o
}
