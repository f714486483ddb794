package dlq

import (
	"time"

	"github.com/xraph/taskq/id"
)

// Entry is a snapshot of a dead job kept for inspection or replay.
type Entry struct {
	ID          id.DLQID      `json:"id"`
	JobID       id.JobID      `json:"job_id"`
	Kind        string        `json:"kind"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	Error       string        `json:"error"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Timeout     time.Duration `json:"timeout"`
	Backoff     time.Duration `json:"backoff"`
	Schedule    string        `json:"schedule,omitempty"`
	FailedAt    time.Time     `json:"failed_at"`
	ReplayedAt  *time.Time    `json:"replayed_at,omitempty"`
}
