// Package limits provides per-user rate limiting and token budget
// enforcement on top of a shared counter store.
//
// # Overview
//
// The Manager is the single entry point for callers. It combines:
//
//   - ratelimit: fixed-window operation counts per (user, kind)
//   - budget: joint daily and monthly token caps with rollback
//   - analytics: best-effort violation recording and reporting
//
// All three share one breaker.Breaker. The breaker decides whether the store
// is consulted at all, and its fallback policy decides what a limiter
// answers when it is not: plain rate limits deny, token budgets allow.
//
// # Usage
//
//	res, err := manager.CheckLimit(ctx, "u1", "messages")
//	if err != nil {
//	    return err // ErrUnknownKind
//	}
//	if !res.Allowed {
//	    manager.ReportViolation(ctx, "u1", "messages", "free")
//	    return tooManyRequests(res.RetryAfter(time.Now()))
//	}
//
//	res, _ = manager.CheckAndCharge(ctx, "u1", estimatedTokens)
//	// ... generate ...
//	_, _ = manager.AdjustCharge(ctx, "u1", estimatedTokens, actualTokens)
//
// # Errors
//
// Decisions are always returned as data. Store outages never surface as
// errors; the only errors are ErrUnknownKind and ErrInvalidTokenCount, which
// indicate caller or configuration defects.
//
// # Concurrency
//
// Correctness under concurrent callers comes from the store running each
// check as one atomic script. The Manager holds no locks on the request
// path; the breaker's own mutex only guards its state machine.
package limits
