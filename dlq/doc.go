// Package dlq keeps dead jobs for inspection and replay.
//
// When the worker kills a job, whether its budget ran out, its handler
// returned a permanent error or its payload could not be decoded, it
// pushes a snapshot through [Service.Push]. The job record itself stays in
// the queue store with status dead.
//
// [Service.Replay] enqueues a copy of the entry as a fresh job with a new
// id and attempts reset to zero, and stamps ReplayedAt on the entry.
// [Service.Purge] drops entries older than a retention window.
package dlq
