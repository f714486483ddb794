package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/taskq/job"
)

// Metrics records attempt duration and count on the global MeterProvider.
//
// Instruments:
//   - taskq.job.duration (histogram, seconds)
//   - taskq.job.attempts (counter)
//
// Both carry kind, queue and outcome attributes.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records attempt metrics on meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The API hands back noop instruments alongside any error.
	duration, _ := meter.Float64Histogram("taskq.job.duration",
		metric.WithDescription("Duration of job attempts"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter("taskq.job.attempts",
		metric.WithDescription("Job attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		attrs := metric.WithAttributes(
			attribute.String("kind", j.Kind),
			attribute.String("queue", j.Queue),
			attribute.String("outcome", job.OutcomeOf(err).Kind.String()),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		attempts.Add(ctx, 1, attrs)
		return err
	}
}
