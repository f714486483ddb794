package cluster

import (
	"context"
	"time"

	"github.com/xraph/taskq/id"
)

// Lease is a named, expiring claim held by one owner.
type Lease struct {
	Key       string      `json:"key"`
	Owner     id.WorkerID `json:"owner"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Held reports whether the lease is still in force at now.
func (l *Lease) Held(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// Store persists leases.
type Store interface {
	// AcquireLease takes key for owner until now+ttl. It succeeds when the
	// key is free, expired or already held by owner, in which case the
	// expiry is extended. It reports false when another owner holds it.
	AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseLease frees key if owner holds it. Releasing a lease held by
	// someone else is a no-op.
	ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error
}
