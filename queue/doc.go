// Package queue enforces per-queue and per-kind throughput limits inside a
// worker process.
//
// The worker pool's concurrency bounds how many jobs run at once. A
// [Manager] adds finer gates that the pool consults after a reservation:
// a token-bucket rate (golang.org/x/time/rate) and an active-count cap,
// configured per queue and optionally per job kind.
//
//	m := queue.NewManager(
//	    queue.Config{Name: "email", RateLimit: 10, RateBurst: 20},
//	    queue.Config{Name: "email", Kind: "mail.bulk", MaxConcurrency: 2},
//	)
//	if m.Acquire("email", "mail.bulk") {
//	    defer m.Release("email", "mail.bulk")
//	    // run the job
//	}
//
// A job refused by Acquire is released back to the store with a short
// delay, without consuming an attempt. Queues and kinds without a [Config]
// are unlimited.
package queue
