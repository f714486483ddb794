package schedule

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/taskq/job"
)

// Template is the one-shot job a definition produces when it fires.
type Template struct {
	Kind    string
	Payload any
	Opts    []job.Option
}

// Factory builds the job for a firing at now.
type Factory func(ctx context.Context, now time.Time) (Template, error)

// Static returns a Factory that always produces the same job.
func Static(kind string, payload any, opts ...job.Option) Factory {
	return func(context.Context, time.Time) (Template, error) {
		return Template{Kind: kind, Payload: payload, Opts: opts}, nil
	}
}

// Definition is a recurring task. Exactly one of Every and Cron is set.
type Definition struct {
	// Name is unique per scheduler and tags every job the definition
	// dispatches.
	Name string

	// Every fires the definition at a fixed interval after its last run.
	Every time.Duration

	// Cron is a 5-field cron expression or a descriptor such as "@hourly"
	// or "@every 30s".
	Cron string

	Factory Factory

	// AllowOverlap dispatches even while a previous run is outstanding.
	AllowOverlap bool

	// Immediate fires on the first tick after registration instead of
	// waiting one full period.
	Immediate bool
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a cron expression.
func ParseCron(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Entry is a registered definition with its run state.
type Entry struct {
	Definition

	// LastRunAt is when the definition last fired. Zero means never.
	LastRunAt time.Time

	// RegisteredAt anchors the first period of a definition that never ran.
	RegisteredAt time.Time

	cron cronlib.Schedule
}

// NewEntry validates def and returns its entry, registered at now.
func NewEntry(def Definition, now time.Time) (*Entry, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("schedule: definition without name")
	}
	if def.Factory == nil {
		return nil, fmt.Errorf("schedule: %s: nil factory", def.Name)
	}
	e := &Entry{Definition: def, RegisteredAt: now}
	switch {
	case def.Every > 0 && def.Cron != "":
		return nil, fmt.Errorf("schedule: %s: both interval and cron set", def.Name)
	case def.Every > 0:
	case def.Cron != "":
		sched, err := ParseCron(def.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule: %s: parse cron %q: %w", def.Name, def.Cron, err)
		}
		e.cron = sched
	default:
		return nil, fmt.Errorf("schedule: %s: no interval or cron", def.Name)
	}
	return e, nil
}

// Next returns when the entry is next due.
func (e *Entry) Next() time.Time {
	anchor := e.LastRunAt
	if anchor.IsZero() {
		if e.Immediate {
			return e.RegisteredAt
		}
		anchor = e.RegisteredAt
	}
	if e.cron != nil {
		return e.cron.Next(anchor)
	}
	return anchor.Add(e.Every)
}

// Due reports whether the entry's time has come at now. It ignores overlap.
func (e *Entry) Due(now time.Time) bool {
	return !now.Before(e.Next())
}
