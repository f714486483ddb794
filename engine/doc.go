// Package engine wires the taskq subsystems together and provides the
// application-level API for registering kinds, dispatching jobs and
// declaring recurring work.
//
// Engine sits above every subsystem package and below the application:
// job, dispatcher, worker, schedule and dlq know nothing of each other
// beyond small interfaces, and the engine plugs them into one store.
//
// # Building an Engine
//
//	eng, err := engine.New(pgStore,
//	    engine.WithConfig(cfg),
//	    engine.WithExtension(myExtension),
//	    engine.WithBackoff(backoff.Policy{Mode: backoff.Exponential, Max: time.Hour}),
//	    engine.WithQueueConfig(queue.Config{Name: "mail", RateLimit: 50}),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("mail.send", sendMail))
//
//	eng.Schedule(schedule.Definition{
//	    Name:    "nightly-digest",
//	    Cron:    "0 3 * * *",
//	    Factory: schedule.Static("digest.build", DigestInput{}),
//	})
//
// # Dispatching
//
//	jobID, err := eng.Dispatch(ctx, "mail.send", MailInput{To: "a@example.com"},
//	    job.WithDelay(time.Minute))
//
// # Lifecycle
//
// Start launches one worker pool per configured queue and the scheduler;
// Stop stops the scheduler first, then drains the pools for at most
// Config.ShutdownTimeout before cancelling in-flight jobs. Either half can be
// disabled with [WithoutWorkers] or [WithoutScheduler] so that worker and
// scheduler processes can be deployed separately against one store.
package engine
