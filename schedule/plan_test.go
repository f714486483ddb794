package schedule_test

import (
	"testing"
	"time"

	"github.com/xraph/taskq/schedule"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func mustEntry(t *testing.T, def schedule.Definition) *schedule.Entry {
	t.Helper()
	if def.Factory == nil {
		def.Factory = schedule.Static("noop", nil)
	}
	e, err := schedule.NewEntry(def, t0)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	return e
}

func names(es []*schedule.Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name
	}
	return out
}

func TestPlan_IntervalDue(t *testing.T) {
	e := mustEntry(t, schedule.Definition{Name: "sync", Every: time.Minute})
	e.LastRunAt = t0.Add(-70 * time.Second)

	due := schedule.Plan(t0, []*schedule.Entry{e}, func(string) bool { return false })
	if len(due) != 1 || due[0].Name != "sync" {
		t.Fatalf("due = %v, want [sync]", names(due))
	}
}

func TestPlan_IntervalNotYetDue(t *testing.T) {
	e := mustEntry(t, schedule.Definition{Name: "sync", Every: time.Minute})
	e.LastRunAt = t0.Add(-30 * time.Second)

	if due := schedule.Plan(t0, []*schedule.Entry{e}, nil); len(due) != 0 {
		t.Fatalf("due = %v, want none", names(due))
	}
}

func TestPlan_OutstandingSkipped(t *testing.T) {
	busy := mustEntry(t, schedule.Definition{Name: "busy", Every: time.Minute})
	overlap := mustEntry(t, schedule.Definition{Name: "overlap", Every: time.Minute, AllowOverlap: true})
	free := mustEntry(t, schedule.Definition{Name: "free", Every: time.Minute})
	for _, e := range []*schedule.Entry{busy, overlap, free} {
		e.LastRunAt = t0.Add(-2 * time.Minute)
	}

	due := schedule.Plan(t0, []*schedule.Entry{busy, overlap, free}, func(string) bool { return true })
	got := names(due)
	if len(got) != 1 || got[0] != "overlap" {
		t.Fatalf("due = %v, want [overlap]", got)
	}

	due = schedule.Plan(t0, []*schedule.Entry{busy, overlap, free}, func(name string) bool { return name == "busy" })
	got = names(due)
	if len(got) != 2 || got[0] != "overlap" || got[1] != "free" {
		t.Fatalf("due = %v, want [overlap free]", got)
	}
}

func TestEntry_NeverRunAnchorsAtRegistration(t *testing.T) {
	e := mustEntry(t, schedule.Definition{Name: "sync", Every: time.Minute})
	if e.Due(t0.Add(59 * time.Second)) {
		t.Fatal("due before one period elapsed")
	}
	if !e.Due(t0.Add(time.Minute)) {
		t.Fatal("not due after one period")
	}

	now := mustEntry(t, schedule.Definition{Name: "warm", Every: time.Hour, Immediate: true})
	if !now.Due(t0) {
		t.Fatal("immediate definition not due at registration")
	}
}

func TestEntry_Cron(t *testing.T) {
	e := mustEntry(t, schedule.Definition{Name: "five", Cron: "*/5 * * * *"})
	if e.Due(t0.Add(4 * time.Minute)) {
		t.Fatal("due before 09:05")
	}
	if !e.Due(t0.Add(5 * time.Minute)) {
		t.Fatal("not due at 09:05")
	}

	e.LastRunAt = t0.Add(5 * time.Minute)
	if got := e.Next(); !got.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("Next = %s, want 09:10", got)
	}
}

func TestNewEntry_Invalid(t *testing.T) {
	factory := schedule.Static("noop", nil)
	tests := []struct {
		name string
		def  schedule.Definition
	}{
		{"no name", schedule.Definition{Every: time.Minute, Factory: factory}},
		{"no factory", schedule.Definition{Name: "x", Every: time.Minute}},
		{"no period", schedule.Definition{Name: "x", Factory: factory}},
		{"both periods", schedule.Definition{Name: "x", Every: time.Minute, Cron: "@hourly", Factory: factory}},
		{"bad cron", schedule.Definition{Name: "x", Cron: "every tuesday", Factory: factory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := schedule.NewEntry(tt.def, t0); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
