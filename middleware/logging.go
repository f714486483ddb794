package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/taskq/job"
)

// Logging logs every attempt with its outcome and duration. Failures log at
// Warn, everything else at Info.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("kind", j.Kind),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
		}
		logger.Debug("job attempt started", attrs...)

		start := time.Now()
		err := next(ctx)
		out := job.OutcomeOf(err)

		attrs = append(attrs,
			slog.String("outcome", out.Kind.String()),
			slog.Duration("elapsed", time.Since(start)),
		)
		switch out.Kind {
		case job.OutcomeFail, job.OutcomeDead:
			logger.Warn("job attempt failed", append(attrs, slog.String("error", err.Error()))...)
		case job.OutcomeRelease:
			logger.Info("job attempt released", append(attrs, slog.Duration("delay", out.Delay))...)
		default:
			logger.Info("job attempt finished", attrs...)
		}
		return err
	}
}
