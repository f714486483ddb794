package job

import (
	"fmt"
	"time"

	"github.com/xraph/taskq/id"
)

// Record is the store-agnostic persisted shape of a job. Durations are
// whole seconds and timestamps are epoch milliseconds.
type Record struct {
	ID             string `json:"id" msgpack:"id"`
	Kind           string `json:"kind" msgpack:"kind"`
	Payload        []byte `json:"payload" msgpack:"payload"`
	Queue          string `json:"queue" msgpack:"queue"`
	Attempts       int    `json:"attempts" msgpack:"attempts"`
	MaxAttempts    int    `json:"maxAttempts" msgpack:"maxAttempts"`
	TimeoutSeconds int64  `json:"timeoutSeconds" msgpack:"timeoutSeconds"`
	BackoffSeconds int64  `json:"backoffSeconds" msgpack:"backoffSeconds"`
	AvailableAt    int64  `json:"availableAt" msgpack:"availableAt"`
	CreatedAt      int64  `json:"createdAt" msgpack:"createdAt"`
	Status         string `json:"status" msgpack:"status"`
}

// ToRecord converts j to its persisted shape. Sub-second precision of
// Timeout and Backoff is dropped.
func (j *Job) ToRecord() Record {
	return Record{
		ID:             j.ID.String(),
		Kind:           j.Kind,
		Payload:        j.Payload,
		Queue:          j.Queue,
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		TimeoutSeconds: int64(j.Timeout / time.Second),
		BackoffSeconds: int64(j.Backoff / time.Second),
		AvailableAt:    j.AvailableAt.UnixMilli(),
		CreatedAt:      j.CreatedAt.UnixMilli(),
		Status:         string(j.Status),
	}
}

// Validate checks the record against the schema constraints.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("job: record: empty id")
	case r.Kind == "":
		return fmt.Errorf("job: record %s: empty kind", r.ID)
	case r.Attempts < 0:
		return fmt.Errorf("job: record %s: negative attempts", r.ID)
	case r.MaxAttempts < 1:
		return fmt.Errorf("job: record %s: maxAttempts must be >= 1", r.ID)
	case r.Attempts > r.MaxAttempts:
		return fmt.Errorf("job: record %s: attempts %d exceed maxAttempts %d", r.ID, r.Attempts, r.MaxAttempts)
	case r.TimeoutSeconds <= 0:
		return fmt.Errorf("job: record %s: timeoutSeconds must be > 0", r.ID)
	case r.BackoffSeconds < 0:
		return fmt.Errorf("job: record %s: negative backoffSeconds", r.ID)
	case !Status(r.Status).Valid():
		return fmt.Errorf("job: record %s: unknown status %q", r.ID, r.Status)
	}
	return nil
}

// FromRecord rebuilds a Job from its persisted shape.
func FromRecord(r Record) (*Job, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("job: record: %w", err)
	}
	created := time.UnixMilli(r.CreatedAt).UTC()
	return &Job{
		ID:          jobID,
		Kind:        r.Kind,
		Queue:       r.Queue,
		Payload:     r.Payload,
		Status:      Status(r.Status),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Timeout:     time.Duration(r.TimeoutSeconds) * time.Second,
		Backoff:     time.Duration(r.BackoffSeconds) * time.Second,
		AvailableAt: time.UnixMilli(r.AvailableAt).UTC(),
		CreatedAt:   created,
		UpdatedAt:   created,
	}, nil
}
