package taskq

import "time"

// Config holds process-level configuration for worker pools and the
// scheduler.
type Config struct {
	// Queues lists the queues served. One worker pool runs per queue.
	Queues []string

	// Concurrency is the maximum number of jobs a pool runs at once.
	Concurrency int

	// PollInterval is how long a pool sleeps when a reservation returns
	// nothing.
	PollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs before
	// cancelling them.
	ShutdownTimeout time.Duration

	// SchedulerInterval is the scheduler tick period.
	SchedulerInterval time.Duration

	// ReapInterval is how often expired reservations are swept. Zero
	// disables the reaper.
	ReapInterval time.Duration

	// ReapGrace is added to a job's timeout before its reservation is
	// considered abandoned.
	ReapGrace time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queues:            []string{"default"},
		Concurrency:       10,
		PollInterval:      time.Second,
		ShutdownTimeout:   30 * time.Second,
		SchedulerInterval: time.Minute,
		ReapInterval:      30 * time.Second,
		ReapGrace:         30 * time.Second,
	}
}
