// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq, cluster) defines its own store interface and a single backend
// implements all of them. Backends: Memory, Postgres, Redis and MongoDB.
package store

import (
	"context"

	"github.com/xraph/taskq/cluster"
	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/job"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	dlq.Store
	cluster.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
