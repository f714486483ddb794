package job

import (
	"fmt"
	"time"

	"github.com/xraph/taskq/id"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	// StatusPending means the job waits for AvailableAt to pass.
	StatusPending Status = "pending"
	// StatusReserved means a worker claimed the job but has not started it.
	StatusReserved Status = "reserved"
	// StatusRunning means the owning worker is executing an attempt.
	StatusRunning Status = "running"
	// StatusSucceeded is terminal: the handler returned success.
	StatusSucceeded Status = "succeeded"
	// StatusFailedRetrying means the last attempt failed and the job becomes
	// reservable again once AvailableAt passes.
	StatusFailedRetrying Status = "failed_retrying"
	// StatusDead is terminal and requires manual intervention.
	StatusDead Status = "dead"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReserved, StatusRunning,
		StatusSucceeded, StatusFailedRetrying, StatusDead:
		return true
	}
	return false
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusDead
}

// Reservable reports whether a record in this status may be reserved once
// it is due.
func (s Status) Reservable() bool {
	return s == StatusPending || s == StatusFailedRetrying
}

// Owned reports whether a record in this status belongs to a worker.
func (s Status) Owned() bool {
	return s == StatusReserved || s == StatusRunning
}

// Job represents a unit of deferred work.
type Job struct {
	ID          id.JobID      `json:"id"`
	Kind        string        `json:"kind"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Timeout     time.Duration `json:"timeout"`
	Backoff     time.Duration `json:"backoff"`
	AvailableAt time.Time     `json:"available_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// Schedule names the recurring definition that produced the job.
	// Empty for ad-hoc dispatches.
	Schedule   string      `json:"schedule,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
	ReservedBy id.WorkerID `json:"reserved_by,omitempty"`
	ReservedAt *time.Time  `json:"reserved_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Validate checks the invariants every stored record must hold.
func (j *Job) Validate() error {
	switch {
	case j.ID.IsNil():
		return fmt.Errorf("job: empty id")
	case j.Kind == "":
		return fmt.Errorf("job %s: empty kind", j.ID)
	case j.MaxAttempts < 1:
		return fmt.Errorf("job %s: max attempts must be >= 1, got %d", j.ID, j.MaxAttempts)
	case j.Attempts < 0 || j.Attempts > j.MaxAttempts:
		return fmt.Errorf("job %s: attempts %d outside [0, %d]", j.ID, j.Attempts, j.MaxAttempts)
	case j.Timeout <= 0:
		return fmt.Errorf("job %s: timeout must be > 0, got %s", j.ID, j.Timeout)
	case j.Backoff < 0:
		return fmt.Errorf("job %s: negative backoff %s", j.ID, j.Backoff)
	case !j.Status.Valid():
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	return nil
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	if j.ReservedAt != nil {
		t := *j.ReservedAt
		cp.ReservedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// Due reports whether the job may be reserved at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status.Reservable() && !j.AvailableAt.After(now)
}

// BudgetLeft reports whether another attempt fits in MaxAttempts.
func (j *Job) BudgetLeft() bool {
	return j.Attempts < j.MaxAttempts
}

// Expired reports whether an owned record outlived its reservation: the
// attempt timeout plus grace elapsed since it was reserved.
func (j *Job) Expired(now time.Time, grace time.Duration) bool {
	if !j.Status.Owned() || j.ReservedAt == nil {
		return false
	}
	return now.After(j.ReservedAt.Add(j.Timeout + grace))
}

// NextAvailable returns max(current, now+delay) so AvailableAt never moves
// backward.
func NextAvailable(current, now time.Time, delay time.Duration) time.Time {
	next := now.Add(delay)
	if current.After(next) {
		return current
	}
	return next
}
