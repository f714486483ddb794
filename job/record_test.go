package job_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

func sampleJob() *job.Job {
	now := time.UnixMilli(1_700_000_000_123).UTC()
	return &job.Job{
		ID:          id.NewJobID(),
		Kind:        "mail.send",
		Queue:       "default",
		Payload:     []byte(`{"to":"a"}`),
		Status:      job.StatusPending,
		MaxAttempts: 3,
		Timeout:     90 * time.Second,
		Backoff:     10 * time.Second,
		AvailableAt: now.Add(time.Minute),
		CreatedAt:   now,
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	j := sampleJob()
	rec := j.ToRecord()
	if rec.TimeoutSeconds != 90 || rec.BackoffSeconds != 10 {
		t.Fatalf("durations = %d/%d", rec.TimeoutSeconds, rec.BackoffSeconds)
	}
	if rec.CreatedAt != 1_700_000_000_123 {
		t.Fatalf("createdAt = %d", rec.CreatedAt)
	}

	back, err := job.FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if back.ID.String() != j.ID.String() {
		t.Errorf("id = %s, want %s", back.ID, j.ID)
	}
	if !back.AvailableAt.Equal(j.AvailableAt) {
		t.Errorf("availableAt = %v, want %v", back.AvailableAt, j.AvailableAt)
	}
	if back.Timeout != j.Timeout || back.Status != job.StatusPending {
		t.Errorf("got %+v", back)
	}
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*job.Record)
		want   string
	}{
		{"attempts over budget", func(r *job.Record) { r.Attempts = 4 }, "exceed"},
		{"zero max attempts", func(r *job.Record) { r.MaxAttempts = 0 }, "maxAttempts"},
		{"zero timeout", func(r *job.Record) { r.TimeoutSeconds = 0 }, "timeoutSeconds"},
		{"unknown status", func(r *job.Record) { r.Status = "paused" }, "status"},
		{"empty kind", func(r *job.Record) { r.Kind = "" }, "kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleJob().ToRecord()
			tt.mutate(&rec)
			err := rec.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestJob_Validate(t *testing.T) {
	if err := sampleJob().Validate(); err != nil {
		t.Fatalf("valid job: %v", err)
	}
	short := sampleJob()
	short.Timeout = 200 * time.Millisecond
	if err := short.Validate(); err != nil {
		t.Fatalf("sub-second timeout rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*job.Job)
		want   string
	}{
		{"zero max attempts", func(j *job.Job) { j.MaxAttempts = 0 }, "max attempts"},
		{"attempts over budget", func(j *job.Job) { j.Attempts = 4 }, "outside"},
		{"zero timeout", func(j *job.Job) { j.Timeout = 0 }, "timeout"},
		{"negative backoff", func(j *job.Job) { j.Backoff = -time.Second }, "backoff"},
		{"unknown status", func(j *job.Job) { j.Status = "paused" }, "status"},
		{"empty kind", func(j *job.Job) { j.Kind = "" }, "kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := sampleJob()
			tt.mutate(j)
			err := j.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestOptions_ApplyFillsInvalidZeroValues(t *testing.T) {
	o := job.Options{}.Apply()
	if o.MaxAttempts != job.DefaultMaxAttempts || o.Timeout != job.DefaultTimeout || o.Queue != job.DefaultQueue {
		t.Fatalf("opts = %+v", o)
	}
	if o.Backoff != 0 {
		t.Fatalf("zero backoff replaced with %v", o.Backoff)
	}
}

func TestNextAvailable_NeverMovesBackward(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)
	if got := job.NextAvailable(later, now, time.Minute); !got.Equal(later) {
		t.Errorf("got %v, want %v", got, later)
	}
	if got := job.NextAvailable(now, now, time.Minute); !got.Equal(now.Add(time.Minute)) {
		t.Errorf("got %v, want now+1m", got)
	}
}

func TestJob_Expired(t *testing.T) {
	j := sampleJob()
	now := time.Now()
	reserved := now.Add(-2 * time.Minute)
	j.Status = job.StatusRunning
	j.ReservedAt = &reserved

	if !j.Expired(now, 10*time.Second) {
		t.Error("expected running job past timeout+grace to be expired")
	}
	if j.Expired(now, time.Minute) {
		t.Error("grace should extend the reservation")
	}
	j.Status = job.StatusPending
	if j.Expired(now, 0) {
		t.Error("pending job is never expired")
	}
}

func TestOptions_FirstAvailable(t *testing.T) {
	now := time.Now()
	o := job.DefaultOptions().Apply(job.WithDelay(time.Minute))
	if got := o.FirstAvailable(now); !got.Equal(now.Add(time.Minute)) {
		t.Errorf("delay: got %v", got)
	}
	at := now.Add(time.Hour)
	o = o.Apply(job.WithRunAt(at))
	if got := o.FirstAvailable(now); !got.Equal(at) {
		t.Errorf("runAt: got %v", got)
	}
}
