// Package store provides the shared counter store used by the limiters.
//
// # Overview
//
// Counters live in Redis so that every replica observes the same usage. All
// check-then-act sequences run as server-side Lua scripts, which Redis executes
// without interleaving other commands. That run-to-completion property is the
// only thing preventing two concurrent callers from spending the same slot.
//
// Two scripts are embedded:
//
//   - fixed_window.lua: INCR a window counter and repair its expiry
//   - token_budget.lua: INCRBY two budget counters, roll both back on overflow
//
// Both scripts re-apply the expiry whenever a key is found without one. A
// crash between INCR and EXPIRE in a two-step client implementation would
// otherwise leave a counter that never resets.
//
// MemoryStore implements the same contract in process for single-replica
// deployments and local development. It serializes every operation behind one
// mutex and mirrors the scripts' expiry repair.
//
// # Usage
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := store.NewRedisStore(rdb, store.WithKeyPrefix("guard:"))
//
//	wc, err := s.IncrementWindow(ctx, "rateLimit:u1:messages", time.Minute)
package store
