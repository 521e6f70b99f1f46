// Package analytics records rate limit violations and answers aggregate
// questions about them.
//
// # Storage Layout
//
// Each limit kind owns a sorted set violations:events:{kind}. Members are
// userId:tier:timestampMs:nonce, scored by the timestamp in milliseconds.
// Each user owns a hash violations:users:{userId} whose fields are
// {kind}:{hourBucket} counters, so per-user counts never scan raw events.
//
// A single MULTI batch appends the event, bumps the hour bucket, trims events
// past the retention horizon and refreshes both expiries.
//
// # Queries
//
//	a := analytics.New(rdb, b)
//	a.LogViolation(ctx, "u1", "messages", "free")
//	n := a.UserViolationCount(ctx, "u1", 24)
//	top := a.TopViolators(ctx, 24, 10)
//
// TopViolators discovers kinds with SCAN and reads each sorted set by score.
// It is linear in the number of violations inside the window and meant for
// operators, not the request path.
//
// # Retention
//
// Prune sweeps every event set and user hash, optionally copying expired
// events into a SQLite Archive first. RetentionScheduler runs it on a cron
// schedule.
package analytics
