package middleware

import (
	"context"

	"github.com/xraph/taskq/job"
)

// Handler runs the job's handler with the (possibly decorated) context.
type Handler func(ctx context.Context) error

// Middleware decorates a Handler. It must call next unless it deliberately
// short-circuits the attempt.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws so that mws[0] runs first.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error { return mw(ctx, j, inner) }
		}
		return h(ctx)
	}
}
