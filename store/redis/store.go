package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/taskq/store"
)

var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix namespaces every key. Defaults to "{taskq}:". A prefix
// without a hash tag is wrapped into one, so "jobs:" becomes "{jobs}:".
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = tagPrefix(p) }
}

// WithClock overrides the time source used by resolution operations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPurgeOnAck deletes jobs when they succeed instead of keeping them.
func WithPurgeOnAck() Option {
	return func(s *Store) { s.purgeOnAck = true }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client     goredis.Cmdable
	logger     *slog.Logger
	prefix     string
	now        func() time.Time
	purgeOnAck bool
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		prefix: defaultPrefix,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Prefix returns the key namespace, hash tag included.
func (s *Store) Prefix() string { return s.prefix }

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate loads the Lua scripts so the first calls avoid a round trip.
func (s *Store) Migrate(ctx context.Context) error {
	for _, sc := range allScripts {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }
