// Package schedule fires recurring job definitions.
//
// A [Definition] names a recurring task, how often it runs (a fixed
// interval or a cron expression) and a [Factory] that produces the job to
// dispatch. The [Scheduler] ticks (every 60 seconds by default), asks [Plan]
// which definitions are due, and dispatches one job for each.
//
// Overlap is prevented per name: while a job tagged with a definition's
// name is still outstanding in the store, the definition is skipped even
// when its time has come. Set AllowOverlap to opt out.
//
// Several scheduler processes may run against one store. Give them a
// cluster lease store with [WithLeases] and only the lease holder fires;
// the others tick idly until the lease lapses.
//
//	s := schedule.New(dispatcher, store, schedule.WithLeases(store))
//	_ = s.Register(schedule.Definition{
//	    Name:    "reports.nightly",
//	    Cron:    "0 2 * * *",
//	    Factory: schedule.Static("reports.build", Report{Scope: "all"}),
//	})
//	_ = s.Start(ctx)
package schedule
