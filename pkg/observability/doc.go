// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, health probes, and graceful shutdown for the
// authorization engine.
//
// The logger wraps log/slog with a JSON handler. Metrics record authorization
// decision outcomes (allowed, denied, suspended, error), cache hit/miss
// counters per concern, store failures, and audit write failures; decision
// errors are labelled separately from denials so a backing-store outage is
// distinguishable from a genuine permission denial.
//
// The health checker exposes liveness and readiness probes on a dedicated
// port so Kubernetes probes do not traverse the request middleware stack.
package observability
