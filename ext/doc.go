// Package ext defines lifecycle hooks for taskq.
//
// An extension opts in to events by implementing the matching hook
// interfaces; the [Registry] detects them once at registration and fans
// each event out in registration order. A hook error is logged and never
// changes how the job resolves.
//
//	type auditExt struct{}
//
//	func (auditExt) Name() string { return "audit" }
//
//	func (auditExt) OnJobDead(ctx context.Context, j *job.Job, err error) error {
//	    return audit.Write(ctx, "job.dead", j.ID.String(), err.Error())
//	}
//
// Job hooks: [JobEnqueued], [JobStarted], [JobSucceeded], [JobReleased],
// [JobDeleted], [JobRetrying], [JobDead]. Scheduler hook: [ScheduleFired].
// Process hook: [Shutdown].
package ext
