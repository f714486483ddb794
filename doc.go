// Package taskq provides a durable background-job execution core with
// periodic scheduling. Work is deferred off the request path, persisted in a
// queue store, reserved atomically by worker pools, retried under a backoff
// policy and dead-lettered once its attempt budget is spent.
//
// taskq is a library, not a service. Import it, pick a store, register job
// kinds as ordinary Go functions and dispatch work:
//
//	eng, err := engine.New(memory.New(),
//	    engine.WithConfig(taskq.Config{Queues: []string{"default"}, Concurrency: 8}),
//	)
//	engine.Register(eng, job.NewDefinition("mail.send", sendMail))
//	jobID, err := eng.Dispatcher().Dispatch(ctx, "mail.send", MailInput{To: "a@b.c"})
//
// # Architecture
//
// Each subsystem (job, dlq, schedule, lease) defines its own store
// interface. A single backend (memory, postgres, redis, mongo) implements
// them. Delivery is at-least-once: correctness of the whole system rests on
// job.Store.Reserve being atomic, so no two workers ever own the same
// record.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package taskq
