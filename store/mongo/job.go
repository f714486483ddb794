package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

var (
	reservable = bson.M{"$in": bson.A{string(job.StatusPending), string(job.StatusFailedRetrying)}}
	owned      = bson.M{"$in": bson.A{string(job.StatusReserved), string(job.StatusRunning)}}
	terminal   = bson.A{string(job.StatusSucceeded), string(job.StatusDead)}
	dueOrder   = bson.D{{Key: "available_at", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
)

// Enqueue persists a new job. An empty status becomes pending.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	if m.Status == "" {
		m.Status = string(job.StatusPending)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if _, err := s.jobs().InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return taskq.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskq/mongo: enqueue job: %w", err)
	}
	return nil
}

// Reserve claims up to limit due jobs, one FindOneAndUpdate per job so
// each claim is atomic.
func (s *Store) Reserve(ctx context.Context, queue string, now time.Time, limit int, workerID id.WorkerID) ([]*job.Job, error) {
	now = now.UTC()
	filter := bson.M{
		"queue":        queue,
		"status":       reservable,
		"available_at": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{
		"status":      string(job.StatusReserved),
		"reserved_by": workerID.String(),
		"reserved_at": now,
		"updated_at":  now,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(dueOrder)

	jobs := make([]*job.Job, 0, max(limit, 0))
	for len(jobs) < limit {
		var m jobModel
		err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return jobs, fmt.Errorf("taskq/mongo: reserve jobs: %w", err)
		}
		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return jobs, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// MarkRunning moves a job reserved by workerID to running and counts the
// attempt.
func (s *Store) MarkRunning(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	filter := bson.M{
		"_id":         jobID.String(),
		"status":      string(job.StatusReserved),
		"reserved_by": workerID.String(),
		"$expr":       bson.M{"$lt": bson.A{"$attempts", "$max_attempts"}},
	}
	update := bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": bson.M{"status": string(job.StatusRunning), "updated_at": s.clock()},
	}
	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return fromJobModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("taskq/mongo: mark running: %w", err)
	}

	cur, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch {
	case cur.Status != job.StatusReserved:
		return nil, taskq.ErrInvalidState
	case cur.ReservedBy.String() != workerID.String():
		return nil, taskq.ErrConcurrencyViolation
	default:
		return nil, taskq.ErrBudgetSpent
	}
}

// Ack marks a job owned by workerID succeeded, or deletes it with
// WithPurgeOnAck.
func (s *Store) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	filter := ownedBy(jobID, workerID)
	if s.purgeOnAck {
		res, err := s.jobs().DeleteOne(ctx, filter)
		if err != nil {
			return fmt.Errorf("taskq/mongo: ack job: %w", err)
		}
		return s.classifyOwned(ctx, jobID, res.DeletedCount)
	}
	now := s.clock()
	res, err := s.jobs().UpdateOne(ctx, filter, bson.M{
		"$set":   bson.M{"status": string(job.StatusSucceeded), "finished_at": now, "updated_at": now},
		"$unset": bson.M{"reserved_by": "", "reserved_at": ""},
	})
	if err != nil {
		return fmt.Errorf("taskq/mongo: ack job: %w", err)
	}
	return s.classifyOwned(ctx, jobID, res.MatchedCount)
}

// Release returns an owned job to pending and rolls back a counted attempt.
// The pipeline update evaluates every expression against the stored
// document, so the rollback sees the status before the change.
func (s *Store) Release(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) error {
	now := s.clock()
	rollback := bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$eq": bson.A{"$status", string(job.StatusRunning)}},
			bson.M{"$gt": bson.A{"$attempts", 0}},
		}},
		bson.M{"$subtract": bson.A{"$attempts", 1}},
		"$attempts",
	}}
	pipeline := mongod.Pipeline{
		{{Key: "$set", Value: bson.M{
			"attempts":     rollback,
			"status":       string(job.StatusPending),
			"available_at": bson.M{"$max": bson.A{"$available_at", now.Add(delay)}},
			"updated_at":   now,
		}}},
		{{Key: "$unset", Value: bson.A{"reserved_by", "reserved_at"}}},
	}
	res, err := s.jobs().UpdateOne(ctx, ownedBy(jobID, workerID), pipeline)
	if err != nil {
		return fmt.Errorf("taskq/mongo: release job: %w", err)
	}
	return s.classifyOwned(ctx, jobID, res.MatchedCount)
}

// Retry records a failed attempt and gates the next one by delay.
func (s *Store) Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error {
	now := s.clock()
	pipeline := mongod.Pipeline{
		{{Key: "$set", Value: bson.M{
			"status":       string(job.StatusFailedRetrying),
			"available_at": bson.M{"$max": bson.A{"$available_at", now.Add(delay)}},
			"last_error":   bson.M{"$literal": lastErr},
			"updated_at":   now,
		}}},
		{{Key: "$unset", Value: bson.A{"reserved_by", "reserved_at"}}},
	}
	res, err := s.jobs().UpdateOne(ctx, ownedBy(jobID, workerID), pipeline)
	if err != nil {
		return fmt.Errorf("taskq/mongo: retry job: %w", err)
	}
	return s.classifyOwned(ctx, jobID, res.MatchedCount)
}

// Kill moves a job owned by workerID to dead.
func (s *Store) Kill(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lastErr string) error {
	now := s.clock()
	res, err := s.jobs().UpdateOne(ctx, ownedBy(jobID, workerID), bson.M{
		"$set":   bson.M{"status": string(job.StatusDead), "last_error": lastErr, "finished_at": now, "updated_at": now},
		"$unset": bson.M{"reserved_by": "", "reserved_at": ""},
	})
	if err != nil {
		return fmt.Errorf("taskq/mongo: kill job: %w", err)
	}
	return s.classifyOwned(ctx, jobID, res.MatchedCount)
}

// Cancel moves an unowned, reservable job to dead.
func (s *Store) Cancel(ctx context.Context, jobID id.JobID, reason string) error {
	now := s.clock()
	res, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID.String(), "status": reservable},
		bson.M{"$set": bson.M{"status": string(job.StatusDead), "last_error": reason, "finished_at": now, "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("taskq/mongo: cancel job: %w", err)
	}
	return s.classify(ctx, jobID, res.MatchedCount)
}

// Delete removes a job owned by workerID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.jobs().DeleteOne(ctx, ownedBy(jobID, workerID))
	if err != nil {
		return fmt.Errorf("taskq/mongo: delete job: %w", err)
	}
	return s.classifyOwned(ctx, jobID, res.DeletedCount)
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ListDue returns reservable jobs due at cutoff in reservation order.
func (s *Store) ListDue(ctx context.Context, cutoff time.Time, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"status": reservable, "available_at": bson.M{"$lte": cutoff.UTC()}}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}
	return s.find(ctx, filter, findOpts(dueOrder, opts.Offset, opts.Limit))
}

// List returns jobs matching opts, newest first.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}
	newest := bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	return s.find(ctx, filter, findOpts(newest, opts.Offset, opts.Limit))
}

// Count returns the number of jobs matching opts.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	n, err := s.jobs().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("taskq/mongo: count jobs: %w", err)
	}
	return n, nil
}

// HasOutstanding reports whether a non-terminal job carries schedule.
func (s *Store) HasOutstanding(ctx context.Context, schedule string) (bool, error) {
	n, err := s.jobs().CountDocuments(ctx,
		bson.M{"schedule": schedule, "status": bson.M{"$nin": terminal}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("taskq/mongo: has outstanding: %w", err)
	}
	return n > 0, nil
}

// ReapExpired recovers owned jobs whose reservation outlived timeout+grace.
// Each recovery is its own FindOneAndUpdate; a job claimed back by another
// reaper in between simply stops matching.
func (s *Store) ReapExpired(ctx context.Context, now time.Time, grace time.Duration) ([]*job.Job, error) {
	now = now.UTC()
	filter := bson.M{
		"status": owned,
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$add": bson.A{"$reserved_at", "$timeout_ms", grace.Milliseconds()}},
			now,
		}},
	}
	budgetLeft := bson.M{"$lt": bson.A{"$attempts", "$max_attempts"}}
	pipeline := mongod.Pipeline{
		{{Key: "$set", Value: bson.M{
			"status": bson.M{"$cond": bson.A{
				budgetLeft, string(job.StatusFailedRetrying), string(job.StatusDead),
			}},
			"available_at": bson.M{"$cond": bson.A{
				budgetLeft, bson.M{"$max": bson.A{"$available_at", now}}, "$available_at",
			}},
			"finished_at": bson.M{"$cond": bson.A{budgetLeft, "$$REMOVE", now}},
			"last_error":  "reservation expired",
			"updated_at":  now,
		}}},
		{{Key: "$unset", Value: bson.A{"reserved_by", "reserved_at"}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var out []*job.Job
	for {
		var m jobModel
		err := s.jobs().FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				return out, nil
			}
			return out, fmt.Errorf("taskq/mongo: reap expired: %w", err)
		}
		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return out, convErr
		}
		out = append(out, j)
	}
}

// ── helpers ──────────────────────────────────────────────────────

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cursor, err := s.jobs().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: find jobs: %w", err)
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("taskq/mongo: decode jobs: %w", err)
	}
	out := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, j)
	}
	return out, nil
}

// classify turns a zero match count into the right sentinel: the job is
// either missing or in a state the transition does not accept.
func (s *Store) classify(ctx context.Context, jobID id.JobID, n int64) error {
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}
	return taskq.ErrInvalidState
}

// classifyOwned is classify for owner-guarded transitions: an owned job
// that did not match belongs to another worker.
func (s *Store) classifyOwned(ctx context.Context, jobID id.JobID, n int64) error {
	if n > 0 {
		return nil
	}
	cur, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !cur.Status.Owned() {
		return taskq.ErrInvalidState
	}
	return taskq.ErrConcurrencyViolation
}

func ownedBy(jobID id.JobID, workerID id.WorkerID) bson.M {
	return bson.M{"_id": jobID.String(), "status": owned, "reserved_by": workerID.String()}
}
