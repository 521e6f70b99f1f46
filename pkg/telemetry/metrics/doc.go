// Package metrics exposes the service's Prometheus registry over HTTP and
// instruments the HTTP API.
//
// Limit and breaker collectors live with the code that records them (see
// package limits); this package only owns the registry, the /metrics
// handler and per-route request metrics.
//
// # Usage
//
//	reg := metrics.NewRegistry(true)
//	limitMetrics := limits.NewMetrics("guard", reg)
//	httpMetrics := metrics.NewHTTPMetrics("guard", reg)
//
//	mux.Handle("/v1/limits/check", httpMetrics.Wrap("check", checkHandler))
//	mux.Handle("/metrics", metrics.Handler(reg))
package metrics
