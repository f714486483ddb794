// Package stream fans taskq lifecycle events out to live subscribers. The
// [Broker] is an extension: register it on the engine and subscribe to
// topics to receive events as they happen.
package stream

import "time"

// EventType identifies a lifecycle event.
type EventType string

const (
	EventJobEnqueued   EventType = "job.enqueued"
	EventJobStarted    EventType = "job.started"
	EventJobSucceeded  EventType = "job.succeeded"
	EventJobReleased   EventType = "job.released"
	EventJobDeleted    EventType = "job.deleted"
	EventJobRetrying   EventType = "job.retrying"
	EventJobDead       EventType = "job.dead"
	EventScheduleFired EventType = "schedule.fired"
)

// Event is the envelope delivered to subscribers. Job events carry Job;
// schedule events carry Schedule.
type Event struct {
	Type      EventType          `json:"type"`
	Timestamp time.Time          `json:"ts"`
	Job       *JobEventData      `json:"job,omitempty"`
	Schedule  *ScheduleEventData `json:"schedule,omitempty"`
}

// JobEventData describes the job an event is about.
type JobEventData struct {
	JobID       string     `json:"job_id"`
	Kind        string     `json:"kind"`
	Queue       string     `json:"queue"`
	Schedule    string     `json:"schedule,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	ElapsedMs   int64      `json:"elapsed_ms,omitempty"`
	DelayMs     int64      `json:"delay_ms,omitempty"`
	NextAt      *time.Time `json:"next_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ScheduleEventData describes a firing.
type ScheduleEventData struct {
	Name  string `json:"name"`
	JobID string `json:"job_id"`
}
