package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskq/internal/config"
	"github.com/xraph/taskq/store"
	"github.com/xraph/taskq/store/memory"
	"github.com/xraph/taskq/store/mongo"
	"github.com/xraph/taskq/store/postgres"
	"github.com/xraph/taskq/store/redis"
)

// openStore connects the configured backend and migrates it. The returned
// close func releases the store and any client it owns.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func() error, error) {
	var (
		s       store.Store
		closeFn func() error
	)

	switch cfg.Driver {
	case config.DriverMemory:
		opts := []memory.Option{}
		if cfg.PurgeOnAck {
			opts = append(opts, memory.WithPurgeOnAck())
		}
		m := memory.New(opts...)
		s, closeFn = m, m.Close

	case config.DriverPostgres:
		opts := []postgres.Option{postgres.WithLogger(logger)}
		if cfg.PurgeOnAck {
			opts = append(opts, postgres.WithPurgeOnAck())
		}
		pg, err := postgres.New(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		s, closeFn = pg, pg.Close

	case config.DriverRedis:
		redisOpts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(redisOpts)
		opts := []redis.Option{redis.WithLogger(logger), redis.WithPrefix(cfg.RedisPrefix)}
		if cfg.PurgeOnAck {
			opts = append(opts, redis.WithPurgeOnAck())
		}
		rs := redis.New(client, opts...)
		s = rs
		closeFn = func() error { return errors.Join(rs.Close(), client.Close()) }

	case config.DriverMongo:
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		opts := []mongo.Option{mongo.WithLogger(logger)}
		if cfg.PurgeOnAck {
			opts = append(opts, mongo.WithPurgeOnAck())
		}
		ms := mongo.New(client.Database(cfg.MongoDatabase), opts...)
		s = ms
		closeFn = func() error {
			return errors.Join(ms.Close(), client.Disconnect(context.Background()))
		}

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Driver)
	}

	if err := s.Ping(ctx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("ping %s store: %w", cfg.Driver, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
	}
	return s, closeFn, nil
}
