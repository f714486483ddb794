package job_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/taskq/job"
)

func TestOutcomeOf(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		kind  job.OutcomeKind
		delay time.Duration
	}{
		{"nil is success", nil, job.OutcomeSuccess, 0},
		{"release", job.Release(5 * time.Second), job.OutcomeRelease, 5 * time.Second},
		{"negative release clamps", job.Release(-time.Second), job.OutcomeRelease, 0},
		{"wrapped release", fmt.Errorf("handler: %w", job.Release(time.Minute)), job.OutcomeRelease, time.Minute},
		{"delete", job.Delete(), job.OutcomeDelete, 0},
		{"permanent", job.Permanent(boom), job.OutcomeDead, 0},
		{"plain error", boom, job.OutcomeFail, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := job.OutcomeOf(tt.err)
			if out.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", out.Kind, tt.kind)
			}
			if out.Delay != tt.delay {
				t.Errorf("delay = %v, want %v", out.Delay, tt.delay)
			}
		})
	}
}

func TestPermanent_UnwrapsCause(t *testing.T) {
	boom := errors.New("boom")
	out := job.OutcomeOf(job.Permanent(boom))
	if !errors.Is(out.Err, boom) {
		t.Fatalf("expected cause to be boom, got %v", out.Err)
	}
	if !errors.Is(job.Permanent(boom), boom) {
		t.Fatal("Permanent should wrap its cause")
	}
}
