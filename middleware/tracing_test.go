package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/middleware"
)

func setupTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_SpanPerAttempt(t *testing.T) {
	sr, tracer := setupTracer()
	j := newTestJob()

	err := middleware.TracingWithTracer(tracer)(context.Background(), j, func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "taskq.job mail.send" {
		t.Errorf("name = %q", span.Name())
	}
	if v, ok := attr(span, "taskq.job.id"); !ok || v.AsString() != j.ID.String() {
		t.Errorf("job id attribute = %v", v)
	}
	if v, ok := attr(span, "taskq.outcome"); !ok || v.AsString() != "success" {
		t.Errorf("outcome attribute = %v", v)
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}
}

func TestTracing_FailureSetsError(t *testing.T) {
	sr, tracer := setupTracer()

	_ = middleware.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(context.Context) error {
		return errors.New("boom")
	})

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "boom" {
		t.Errorf("status = %+v", span.Status())
	}
	if len(span.Events()) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}

func TestTracing_ReleaseIsNotAnError(t *testing.T) {
	sr, tracer := setupTracer()

	_ = middleware.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(context.Context) error {
		return job.Release(time.Minute)
	})

	span := sr.Ended()[0]
	if span.Status().Code == codes.Error {
		t.Error("release must not mark the span as failed")
	}
	if v, _ := attr(span, "taskq.outcome"); v.AsString() != "release" {
		t.Errorf("outcome = %q", v.AsString())
	}
}

func TestTracing_PropagatesSpanContext(t *testing.T) {
	_, tracer := setupTracer()

	var inner trace.SpanContext
	_ = middleware.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(ctx context.Context) error {
		inner = trace.SpanContextFromContext(ctx)
		return nil
	})
	if !inner.IsValid() {
		t.Fatal("handler context should carry the attempt span")
	}
}
