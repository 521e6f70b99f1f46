// Package server exposes the limits Manager over HTTP.
//
// # Routes
//
//	POST /v1/limits/check        {user_id, kind, tier?}       200 or 429
//	POST /v1/budget/charge       {user_id, tokens, tier?}     200 or 429
//	POST /v1/budget/adjust       {user_id, estimated, actual} 200
//	POST /v1/violations          {user_id, kind, tier}        202
//	GET  /v1/violations/users/{id}?hours=24
//	GET  /v1/violations/top?hours=24&limit=10
//	GET  /v1/health/breaker
//	GET  /health, /ready, /version, /metrics
//
// Decisions carry X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (unix seconds). Denials add Retry-After. A store outage
// never produces a 5xx: the breaker policy decides, and X-RateLimit-Source
// reports circuit_breaker or store_error.
//
// When a check or charge carrying a tier is denied, the violation is
// recorded in the background. The analytics reads and /ready are throttled.
package server
