// Package config loads taskqd process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/taskq"
)

// Role selects what a taskqd process runs.
type Role string

const (
	RoleAll       Role = "all"
	RoleWorker    Role = "worker"
	RoleScheduler Role = "scheduler"
)

// Driver names a queue store backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
	DriverMongo    Driver = "mongo"
)

// Config is the taskqd environment.
type Config struct {
	Role   Role   `env:"TASKQ_ROLE" envDefault:"all"`
	Driver Driver `env:"TASKQ_STORE" envDefault:"memory"`

	PostgresDSN   string `env:"TASKQ_POSTGRES_DSN"`
	RedisURL      string `env:"TASKQ_REDIS_URL"`
	RedisPrefix   string `env:"TASKQ_REDIS_PREFIX" envDefault:"taskq:"`
	MongoURI      string `env:"TASKQ_MONGO_URI"`
	MongoDatabase string `env:"TASKQ_MONGO_DATABASE" envDefault:"taskq"`
	PurgeOnAck    bool   `env:"TASKQ_PURGE_ON_ACK"`

	Queues            []string      `env:"TASKQ_QUEUES" envDefault:"default" envSeparator:","`
	Concurrency       int           `env:"TASKQ_CONCURRENCY" envDefault:"10"`
	PollInterval      time.Duration `env:"TASKQ_POLL_INTERVAL" envDefault:"1s"`
	ShutdownTimeout   time.Duration `env:"TASKQ_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	SchedulerInterval time.Duration `env:"TASKQ_SCHEDULER_INTERVAL" envDefault:"1m"`
	ReapInterval      time.Duration `env:"TASKQ_REAP_INTERVAL" envDefault:"30s"`
	ReapGrace         time.Duration `env:"TASKQ_REAP_GRACE" envDefault:"30s"`
	StrictKinds       bool          `env:"TASKQ_STRICT_KINDS"`

	// AuditActions enables the audit log for the listed lifecycle actions.
	// "all" enables every action.
	AuditActions []string `env:"TASKQ_AUDIT_ACTIONS" envSeparator:","`

	// HTTPAddr serves the admin API and /metrics. Empty disables it.
	HTTPAddr string `env:"TASKQ_HTTP_ADDR" envDefault:":8080"`

	LogLevel  slog.Level `env:"TASKQ_LOG_LEVEL" envDefault:"info"`
	LogFormat string     `env:"TASKQ_LOG_FORMAT" envDefault:"text"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	switch c.Role {
	case RoleAll, RoleWorker, RoleScheduler:
	default:
		return fmt.Errorf("config: unknown role %q", c.Role)
	}

	switch c.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: TASKQ_POSTGRES_DSN is required for the postgres store")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("config: TASKQ_REDIS_URL is required for the redis store")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("config: TASKQ_MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Driver)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be positive, got %d", c.Concurrency)
	}
	queues := c.queues()
	if len(queues) == 0 {
		return fmt.Errorf("config: no queues configured")
	}
	seen := make(map[string]bool, len(queues))
	for _, q := range queues {
		if seen[q] {
			return fmt.Errorf("config: queue %q listed twice", q)
		}
		seen[q] = true
	}
	return nil
}

// Engine converts c into the engine's runtime configuration.
func (c Config) Engine() taskq.Config {
	return taskq.Config{
		Queues:            c.queues(),
		Concurrency:       c.Concurrency,
		PollInterval:      c.PollInterval,
		ShutdownTimeout:   c.ShutdownTimeout,
		SchedulerInterval: c.SchedulerInterval,
		ReapInterval:      c.ReapInterval,
		ReapGrace:         c.ReapGrace,
	}
}

// RunsWorkers reports whether the role includes worker pools.
func (c Config) RunsWorkers() bool { return c.Role != RoleScheduler }

// RunsScheduler reports whether the role includes the scheduler.
func (c Config) RunsScheduler() bool { return c.Role != RoleWorker }

func (c Config) queues() []string {
	out := make([]string, 0, len(c.Queues))
	for _, q := range c.Queues {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
