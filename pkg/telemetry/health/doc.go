// Package health provides liveness, readiness and breaker status endpoints.
//
// # Endpoints
//
//   - /health: Liveness probe - the process is running
//   - /ready: Readiness probe - the counter store answers and the breaker is not open
//   - /version: Build information
//   - BreakerHandler: current breaker state, failure count and last failure
//
// # Usage
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("store", health.StoreCheck(redisStore))
//	checker.RegisterCheck("breaker", health.BreakerCheck(b))
//
//	mux := http.NewServeMux()
//	health.Register(mux, checker, version, commit, buildTime)
//	mux.Handle("/v1/health/breaker", health.BreakerHandler(b))
//
// # Liveness vs Readiness
//
// Liveness never touches dependencies; a failing store must not get the
// process restarted. Readiness reports "degraded" with 503 when any check
// fails, which lets a load balancer drain a replica whose breaker has opened.
package health
