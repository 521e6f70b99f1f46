// Package telemetry groups the service's observability packages.
//
//   - logging: slog construction with request, user and limit kind fields
//   - metrics: Prometheus registry, /metrics handler and HTTP instrumentation
//   - health: liveness, readiness and breaker status endpoints
package telemetry
