package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID          string     `bson:"_id"`
	Kind        string     `bson:"kind"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	Status      string     `bson:"status"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	TimeoutMs   int64      `bson:"timeout_ms"`
	BackoffMs   int64      `bson:"backoff_ms"`
	AvailableAt time.Time  `bson:"available_at"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
	Schedule    string     `bson:"schedule"`
	LastError   string     `bson:"last_error"`
	ReservedBy  string     `bson:"reserved_by,omitempty"`
	ReservedAt  *time.Time `bson:"reserved_at,omitempty"`
	FinishedAt  *time.Time `bson:"finished_at,omitempty"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		Kind:        j.Kind,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Status:      string(j.Status),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		TimeoutMs:   j.Timeout.Milliseconds(),
		BackoffMs:   j.Backoff.Milliseconds(),
		AvailableAt: j.AvailableAt.UTC(),
		CreatedAt:   j.CreatedAt.UTC(),
		UpdatedAt:   j.UpdatedAt.UTC(),
		Schedule:    j.Schedule,
		LastError:   j.LastError,
		ReservedBy:  j.ReservedBy.String(),
		ReservedAt:  j.ReservedAt,
		FinishedAt:  j.FinishedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: parse job id %q: %w", m.ID, err)
	}
	j := &job.Job{
		ID:          jobID,
		Kind:        m.Kind,
		Queue:       m.Queue,
		Payload:     m.Payload,
		Status:      job.Status(m.Status),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		Timeout:     time.Duration(m.TimeoutMs) * time.Millisecond,
		Backoff:     time.Duration(m.BackoffMs) * time.Millisecond,
		AvailableAt: m.AvailableAt.UTC(),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
		Schedule:    m.Schedule,
		LastError:   m.LastError,
		ReservedAt:  utcPtr(m.ReservedAt),
		FinishedAt:  utcPtr(m.FinishedAt),
	}
	if m.ReservedBy != "" {
		if j.ReservedBy, err = id.ParseWorkerID(m.ReservedBy); err != nil {
			return nil, fmt.Errorf("taskq/mongo: parse reserved_by %q: %w", m.ReservedBy, err)
		}
	}
	return j, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqModel struct {
	ID          string     `bson:"_id"`
	JobID       string     `bson:"job_id"`
	Kind        string     `bson:"kind"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	Error       string     `bson:"error"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	TimeoutMs   int64      `bson:"timeout_ms"`
	BackoffMs   int64      `bson:"backoff_ms"`
	Schedule    string     `bson:"schedule"`
	FailedAt    time.Time  `bson:"failed_at"`
	ReplayedAt  *time.Time `bson:"replayed_at,omitempty"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:          e.ID.String(),
		JobID:       e.JobID.String(),
		Kind:        e.Kind,
		Queue:       e.Queue,
		Payload:     e.Payload,
		Error:       e.Error,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		TimeoutMs:   e.Timeout.Milliseconds(),
		BackoffMs:   e.Backoff.Milliseconds(),
		Schedule:    e.Schedule,
		FailedAt:    e.FailedAt.UTC(),
		ReplayedAt:  e.ReplayedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: parse dlq id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: parse dlq job id %q: %w", m.JobID, err)
	}
	return &dlq.Entry{
		ID:          entryID,
		JobID:       jobID,
		Kind:        m.Kind,
		Queue:       m.Queue,
		Payload:     m.Payload,
		Error:       m.Error,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		Timeout:     time.Duration(m.TimeoutMs) * time.Millisecond,
		Backoff:     time.Duration(m.BackoffMs) * time.Millisecond,
		Schedule:    m.Schedule,
		FailedAt:    m.FailedAt.UTC(),
		ReplayedAt:  utcPtr(m.ReplayedAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
