// Package job defines the job record, its status machine, typed
// definitions, the kind registry and the queue store contract.
//
// # Job Record
//
// A [Job] is one unit of deferred work. It carries a codec-encoded payload
// and moves through:
//
//	pending → reserved → running → succeeded
//	                             → pending          (released, attempts rolled back)
//	                             → failed_retrying → reserved → ...
//	                             → dead
//	reserved → dead                                 (undecodable payload, budget spent)
//
// Attempts starts at 0 and is incremented each time a record enters
// running. It never exceeds MaxAttempts: the transition that would push it
// past the budget moves the record to dead instead.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is encoded at
// dispatch time and decoded before the handler runs:
//
//	var SendEmail = job.NewDefinition("mail.send",
//	    func(ctx context.Context, in EmailInput) error {
//	        return mailer.Send(ctx, in.To, in.Subject, in.Body)
//	    },
//	    job.WithMaxAttempts(5),
//	    job.WithBackoff(30*time.Second),
//	)
//
// # Outcomes
//
// A handler reports its outcome through its error return. nil is success;
// [Release] re-queues without counting a failure; [Delete] drops the
// record; [Permanent] dead-letters immediately; any other error is a
// transient failure eligible for retry. [OutcomeOf] classifies the error
// once, at the worker boundary.
//
// Handlers run under at-least-once delivery and should be idempotent. When
// an attempt times out the worker stops waiting but cannot abort the
// handler's goroutine, so an external side effect may still complete after
// the attempt was recorded as failed.
package job
