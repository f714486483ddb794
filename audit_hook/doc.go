// Package audithook is a taskq extension that turns job and schedule
// lifecycle events into audit records.
//
// Every hook produces an [Event] and hands it to a [Recorder]. Terminal
// failures are recorded as critical, retries and releases as warnings and
// everything else as info. Recorder errors are logged and never fail the
// job.
//
//	eng, _ := engine.New(store,
//	    engine.WithExtension(audithook.New(audithook.SlogRecorder(logger),
//	        audithook.WithActions(audithook.ActionJobDead, audithook.ActionJobRetrying),
//	    )),
//	)
package audithook
