package schedule

import "time"

// Outstanding reports whether a job dispatched for name has not finished.
type Outstanding func(name string) bool

// Plan returns the entries to fire at now: those whose time has come and
// that either allow overlap or have nothing outstanding. The input order is
// kept. Plan has no side effects.
func Plan(now time.Time, entries []*Entry, outstanding Outstanding) []*Entry {
	var due []*Entry
	for _, e := range entries {
		if !e.Due(now) {
			continue
		}
		if !e.AllowOverlap && outstanding != nil && outstanding(e.Name) {
			continue
		}
		due = append(due, e)
	}
	return due
}
