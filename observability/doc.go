// Package observability exports process-wide lifecycle counters to
// Prometheus.
//
// [MetricsExtension] is an ext.Extension: register it with the engine and
// every enqueue, attempt outcome, dead letter and schedule fire increments
// a labeled counter. Serve the registry it was built with over
// promhttp.HandlerFor, or use the api package's /metrics route.
//
// Per-attempt OpenTelemetry spans and histograms live in the middleware
// package.
package observability
