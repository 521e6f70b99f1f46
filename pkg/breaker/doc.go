// Package breaker implements the process-local circuit breaker that guards
// calls to the shared counter store.
//
// # States
//
// A Breaker starts closed. Reaching the failure threshold inside the failure
// window opens it, and a one-shot timer moves it to half-open after the
// configured delay. The next store call then decides: success closes the
// breaker, failure reopens it and arms a new timer. While closed, every
// success decrements the failure count by one, so isolated errors leak away
// instead of accumulating.
//
// # Fallback
//
// The breaker does not enforce anything itself. Limiters ask IsOpen before
// calling the store and consult Behavior to decide what to return:
//
//	b := breaker.New(breaker.Config{FailOpenKinds: []string{"tokens"}})
//	if b.IsOpen() {
//	    allowed := b.Behavior(kind) == breaker.BehaviorAllow
//	    ...
//	}
//
// State is never shared across processes. Each replica learns store health
// on its own.
package breaker
