package audithook

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Event is one audit record.
type Event struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	At         time.Time      `json:"at"`
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, evt *Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, evt *Event) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, evt *Event) error { return f(ctx, evt) }

// SlogRecorder writes each event as one structured log line. Critical
// events log at error level and warnings at warn.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *Event) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		keys := make([]string, 0, len(evt.Metadata))
		for k := range evt.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, evt.Metadata[k]))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}
