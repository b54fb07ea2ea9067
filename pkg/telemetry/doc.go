// Package telemetry provides structured logging and metrics for the
// quarry evaluator.
//
// Logging is built on zerolog. A Logger is created once from a
// LoggingConfig and handed down; components derive child loggers with
// NewComponentLogger so every line carries a component tag, and
// per-evaluation context (run id, build file, cell) is attached with the
// WithX helpers.
//
// Metrics are Prometheus collectors on a per-instance registry: every
// Metrics value owns a fresh prometheus.Registry, so tests and embedded
// evaluators never collide on global collector registration. The
// Handler method exposes the registry for scraping when the caller runs
// an HTTP endpoint.
package telemetry
