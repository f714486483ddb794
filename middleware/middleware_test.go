package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/middleware"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Kind:        "mail.send",
		Queue:       "default",
		Attempts:    1,
		MaxAttempts: 3,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	record := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(record("outer"), record("inner"))
	err := chain(context.Background(), newTestJob(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "outer-before,inner-before,handler,inner-after,outer-after"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain must call the handler, err=%v called=%v", err, called)
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	stop := errors.New("stopped")
	block := func(context.Context, *job.Job, middleware.Handler) error { return stop }

	called := false
	err := middleware.Chain(block)(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, stop) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestRecover_ConvertsPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	err := middleware.Recover(logger)(context.Background(), newTestJob(), func(context.Context) error {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v, want panic error", err)
	}
	if job.OutcomeOf(err).Kind != job.OutcomeFail {
		t.Error("a recovered panic is a transient failure")
	}
	if !strings.Contains(buf.String(), "job handler panicked") {
		t.Error("expected panic to be logged")
	}
}

func TestLogging_LogsOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "outcome=success"},
		{"release", job.Release(time.Second), "outcome=release"},
		{"failure", errors.New("smtp down"), "smtp down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			err := middleware.Logging(logger)(context.Background(), newTestJob(), func(context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want passthrough of %v", err, tt.err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log %q missing %q", buf.String(), tt.want)
			}
		})
	}
}
