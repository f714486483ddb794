package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskq/id"
)

// AcquireLease takes or extends key for owner. The upsert filter only
// matches a lease that is expired or already ours; when another owner
// holds it the upsert collides on _id and the call reports false.
func (s *Store) AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	filter := bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"owner": owner.String()},
			bson.M{"expires_at": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{"owner": owner.String(), "expires_at": now.Add(ttl)}}

	_, err := s.leases().UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("taskq/mongo: acquire lease: %w", err)
	}
	return true, nil
}

// ReleaseLease frees key if owner holds it.
func (s *Store) ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error {
	_, err := s.leases().DeleteOne(ctx, bson.M{"_id": key, "owner": owner.String()})
	if err != nil {
		return fmt.Errorf("taskq/mongo: release lease: %w", err)
	}
	return nil
}
