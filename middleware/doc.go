// Package middleware wraps job handlers with cross-cutting behavior.
//
// A [Middleware] receives the running job and the next [Handler]. [Chain]
// composes several; the first one listed is the outermost.
//
//	mw := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	)
//
// The worker always installs [Recover] innermost so a panicking handler
// becomes a transient failure instead of crashing the pool. Logging,
// tracing and metrics label each attempt with its outcome (success,
// release, delete, fail or dead) rather than a plain ok/error split.
package middleware
