package dlq

import (
	"context"
	"time"

	"github.com/xraph/taskq/id"
)

// ListOpts paginates and filters DLQ listings.
type ListOpts struct {
	Limit  int
	Offset int
	Queue  string
	Kind   string
}

// Store persists dead-letter entries. Lookups of unknown ids return
// taskq.ErrDLQNotFound.
type Store interface {
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ stamps ReplayedAt. Re-enqueueing is the service's job.
	ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error

	// PurgeDLQ removes entries that failed before the cutoff and returns
	// how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	CountDLQ(ctx context.Context) (int64, error)
}
