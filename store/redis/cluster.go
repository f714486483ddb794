package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/taskq/id"
)

// AcquireLease takes or extends key for owner. Expiry is enforced by the
// Redis server via PX, so holders need not share a clock.
func (s *Store) AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := acquireLeaseScript.Run(ctx, s.client,
		[]string{s.leaseKey(key)},
		owner.String(), ttl.Milliseconds(),
	).Bool()
	if err != nil {
		return false, fmt.Errorf("taskq/redis: acquire lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease frees key if owner holds it.
func (s *Store) ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error {
	if err := releaseLeaseScript.Run(ctx, s.client, []string{s.leaseKey(key)}, owner.String()).Err(); err != nil {
		return fmt.Errorf("taskq/redis: release lease: %w", err)
	}
	return nil
}
