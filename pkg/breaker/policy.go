package breaker

// Behavior is what a limiter does when the breaker reports the store as
// unavailable.
type Behavior string

const (
	// BehaviorDeny refuses the request (fail closed).
	BehaviorDeny Behavior = "deny"

	// BehaviorAllow admits the request without touching the store (fail open).
	BehaviorAllow Behavior = "allow"
)

// Policy maps limit kinds to their fallback behavior. Kinds not listed as
// fail-open are denied.
type Policy struct {
	failOpen map[string]struct{}
}

// NewPolicy returns a policy that allows the given kinds and denies the rest.
func NewPolicy(failOpenKinds ...string) *Policy {
	p := &Policy{failOpen: make(map[string]struct{}, len(failOpenKinds))}
	for _, k := range failOpenKinds {
		p.failOpen[k] = struct{}{}
	}
	return p
}

// Behavior returns the fallback for kind.
func (p *Policy) Behavior(kind string) Behavior {
	if _, ok := p.failOpen[kind]; ok {
		return BehaviorAllow
	}
	return BehaviorDeny
}
