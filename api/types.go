package api

import (
	"encoding/json"
	"time"

	"github.com/xraph/taskq/stream"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ListJobsRequest filters GET /v1/jobs.
type ListJobsRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=pending reserved running succeeded failed_retrying dead"`
	Queue  string `form:"queue"`
	Kind   string `form:"kind"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// ListDueRequest filters GET /v1/jobs/due.
type ListDueRequest struct {
	Queue string `form:"queue"`
	Kind  string `form:"kind"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// DispatchRequest is the body of POST /v1/jobs. Payload is stored as-is.
type DispatchRequest struct {
	Kind        string          `json:"kind" binding:"required"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Delay       string          `json:"delay"`
	MaxAttempts int             `json:"max_attempts" binding:"omitempty,min=1"`
	Timeout     string          `json:"timeout"`
}

// DispatchResponse is returned by POST /v1/jobs.
type DispatchResponse struct {
	JobID string `json:"job_id"`
}

// JobCountsResponse holds job counts by status.
type JobCountsResponse struct {
	Pending        int64 `json:"pending"`
	Reserved       int64 `json:"reserved"`
	Running        int64 `json:"running"`
	Succeeded      int64 `json:"succeeded"`
	FailedRetrying int64 `json:"failed_retrying"`
	Dead           int64 `json:"dead"`
}

// ListDLQRequest filters GET /v1/dlq.
type ListDLQRequest struct {
	Queue  string `form:"queue"`
	Kind   string `form:"kind"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// PurgeDLQRequest selects entries for POST /v1/dlq/purge. OlderThan is a
// Go duration and defaults to 30 days.
type PurgeDLQRequest struct {
	OlderThan string `form:"older_than"`
}

// PurgeDLQResponse reports how many entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse holds the DLQ size.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// ScheduleResponse describes one registered recurring definition.
type ScheduleResponse struct {
	Name         string     `json:"name"`
	Every        string     `json:"every,omitempty"`
	Cron         string     `json:"cron,omitempty"`
	AllowOverlap bool       `json:"allow_overlap"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    time.Time  `json:"next_run_at"`
}

// StatsResponse aggregates counts across subsystems.
type StatsResponse struct {
	Jobs      JobCountsResponse `json:"jobs"`
	DLQCount  int64             `json:"dlq_count"`
	Schedules int               `json:"schedules"`
	InFlight  map[string]int    `json:"in_flight"`
	Stream    *stream.Stats     `json:"stream,omitempty"`
}
