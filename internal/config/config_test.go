package config_test

import (
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/xraph/taskq/internal/config"
)

func TestDefaults(t *testing.T) {
	c, err := config.LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if c.Role != config.RoleAll || c.Driver != config.DriverMemory {
		t.Errorf("role/driver = %s/%s", c.Role, c.Driver)
	}
	if c.LogLevel != slog.LevelInfo || c.HTTPAddr != ":8080" {
		t.Errorf("log level %v, http addr %q", c.LogLevel, c.HTTPAddr)
	}

	e := c.Engine()
	if !slices.Equal(e.Queues, []string{"default"}) {
		t.Errorf("queues = %v", e.Queues)
	}
	if e.Concurrency != 10 || e.PollInterval != time.Second || e.ReapGrace != 30*time.Second {
		t.Errorf("engine config = %+v", e)
	}
	if !c.RunsWorkers() || !c.RunsScheduler() {
		t.Error("role all should run workers and scheduler")
	}
}

func TestOverrides(t *testing.T) {
	c, err := config.LoadFrom(map[string]string{
		"TASKQ_ROLE":          "worker",
		"TASKQ_STORE":         "redis",
		"TASKQ_REDIS_URL":     "redis://localhost:6379/0",
		"TASKQ_QUEUES":        "mail, reports ,",
		"TASKQ_CONCURRENCY":   "3",
		"TASKQ_POLL_INTERVAL": "250ms",
		"TASKQ_LOG_LEVEL":     "debug",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if c.RunsScheduler() {
		t.Error("worker role should not run the scheduler")
	}
	e := c.Engine()
	if !slices.Equal(e.Queues, []string{"mail", "reports"}) {
		t.Errorf("queues = %q", e.Queues)
	}
	if e.Concurrency != 3 || e.PollInterval != 250*time.Millisecond {
		t.Errorf("engine config = %+v", e)
	}
	if c.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", c.LogLevel)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"unknown role", map[string]string{"TASKQ_ROLE": "janitor"}, "unknown role"},
		{"unknown store", map[string]string{"TASKQ_STORE": "sqlite"}, "unknown store"},
		{"postgres without dsn", map[string]string{"TASKQ_STORE": "postgres"}, "TASKQ_POSTGRES_DSN"},
		{"redis without url", map[string]string{"TASKQ_STORE": "redis"}, "TASKQ_REDIS_URL"},
		{"mongo without uri", map[string]string{"TASKQ_STORE": "mongo"}, "TASKQ_MONGO_URI"},
		{"zero concurrency", map[string]string{"TASKQ_CONCURRENCY": "0"}, "concurrency"},
		{"duplicate queue", map[string]string{"TASKQ_QUEUES": "a,b,a"}, "listed twice"},
		{"empty queues", map[string]string{"TASKQ_QUEUES": " , "}, "no queues"},
		{"bad duration", map[string]string{"TASKQ_POLL_INTERVAL": "often"}, "often"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadFrom(tc.vars)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}
