package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/taskq/id"
)

// AcquireLease takes or extends key for owner with a single upsert. The
// conflict branch only fires when the row is expired or already ours.
func (s *Store) AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO taskq_leases (key, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE taskq_leases.owner = EXCLUDED.owner OR taskq_leases.expires_at <= $4`,
		key, owner.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("taskq/postgres: acquire lease %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease frees key if owner holds it.
func (s *Store) ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM taskq_leases WHERE key = $1 AND owner = $2`,
		key, owner.String(),
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: release lease %s: %w", key, err)
	}
	return nil
}
