// Package ratelimit provides the fixed-window limiter for per-user operation
// counts.
//
// # Algorithm
//
// Each (user, kind) pair owns one counter at rateLimit:{user}:{kind}. A check
// runs a single store script that increments the counter and sets its expiry
// when the counter is new or was found without one. The script returns the
// new count and remaining TTL; the limiter denies once the count passes the
// configured maximum.
//
//	l := ratelimit.NewFixedWindowLimiter(s, b, map[string]ratelimit.KindConfig{
//	    "messages": {MaxRequests: 30, Window: time.Minute},
//	})
//	res, err := l.Check(ctx, "u1", "messages")
//	if err != nil {
//	    // ErrUnknownKind: configuration defect
//	}
//	if !res.Allowed {
//	    // retry after res.ResetTime
//	}
//
// # Failure Handling
//
// Plain rate limits fail closed. With the breaker open, or when the store
// call errors, Check denies. A store error is also recorded on the breaker,
// except when the caller's context was cancelled.
package ratelimit
