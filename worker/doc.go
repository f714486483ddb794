// Package worker consumes jobs: a [Pool] reserves due records from one
// queue and an [Executor] runs each through middleware and its handler,
// then resolves the attempt against the store.
//
// # Attempt resolution
//
//	success                 → Ack
//	job.Release(d)          → Release (attempt rolled back)
//	job.Delete()            → Delete
//	error or timeout        → Retry after the backoff delay, or Kill when the budget is spent
//	job.Permanent(err)      → Kill
//	unknown kind, bad payload → Kill without running
//
// Killed jobs are pushed to the dead-letter queue and logged at Warn with
// id, kind, attempts and last error.
//
// # Timeouts
//
// The handler runs in its own goroutine, raced against a timer of the
// job's Timeout. When the timer wins, the attempt is recorded as failed
// with taskq.ErrTimeout and the handler's context is cancelled, but the
// goroutine itself cannot be stopped. Handlers should watch ctx.Done().
//
// # Store failures
//
// A failing Ack, Retry, Release or Kill is retried with its own short
// backoff until it succeeds or the resolve deadline passes, so the
// attempt's result is not lost to a transient store outage. The pool
// keeps running either way.
//
// # Shutdown
//
// Stop closes the reservation loop at once and waits for in-flight
// attempts, which still resolve normally. If the Stop context expires
// first, the remaining handlers' contexts are cancelled.
package worker
