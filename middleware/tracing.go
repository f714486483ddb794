package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/taskq/job"
)

const instrumentationName = "github.com/xraph/taskq"

// Tracing wraps each attempt in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer wraps each attempt in a span from tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "taskq.job "+j.Kind,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("taskq.job.id", j.ID.String()),
				attribute.String("taskq.job.kind", j.Kind),
				attribute.String("taskq.queue", j.Queue),
				attribute.Int("taskq.attempt", j.Attempts),
				attribute.Int("taskq.max_attempts", j.MaxAttempts),
			),
		)
		defer span.End()

		err := next(ctx)
		out := job.OutcomeOf(err)
		span.SetAttributes(attribute.String("taskq.outcome", out.Kind.String()))

		switch out.Kind {
		case job.OutcomeFail, job.OutcomeDead:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
