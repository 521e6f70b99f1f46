package limits

import (
	"math"
	"time"

	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/budget"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/ratelimit"
)

var (
	// ErrUnknownKind is returned for a limit kind missing from the table.
	ErrUnknownKind = ratelimit.ErrUnknownKind

	// ErrInvalidTokenCount is returned for negative token counts.
	ErrInvalidTokenCount = budget.ErrInvalidTokenCount
)

// Result is the allow/deny decision returned to callers.
// This is used to populate HTTP response headers (X-RateLimit-*).
type Result struct {
	// Allowed indicates if the request is permitted.
	Allowed bool `json:"allowed"`

	// Kind is the limit kind that was checked ("tokens" for budgets).
	Kind string `json:"kind"`

	// Limit is the configured maximum. For token budgets it is the daily cap.
	Limit int64 `json:"limit"`

	// Remaining is what is left right now.
	Remaining int64 `json:"remaining"`

	// ResetTime is when the limiting window ends.
	ResetTime time.Time `json:"reset_time"`

	// Exceeded names the cap that caused a budget denial: daily, monthly
	// or both.
	Exceeded string `json:"exceeded,omitempty"`

	// Tokens is the number of tokens submitted for charging.
	Tokens int64 `json:"tokens,omitempty"`

	// Source records how the decision was made: store, circuit_breaker or
	// store_error.
	Source string `json:"source,omitempty"`

	// Reason explains a denial.
	Reason string `json:"reason,omitempty"`
}

// RetryAfter returns how long the caller should wait before retrying,
// rounded up to whole seconds. Zero when the request was allowed.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

func fromRateLimit(r ratelimit.Result) Result {
	out := Result{
		Allowed:   r.Allowed,
		Kind:      r.Kind,
		Limit:     r.Limit,
		Remaining: r.Remaining,
		ResetTime: r.ResetTime,
		Source:    string(r.Source),
	}
	if !r.Allowed {
		out.Reason = r.Kind + " limit exceeded"
	}
	return out
}

func fromBudget(r budget.Result, dailyLimit int64) Result {
	out := Result{
		Allowed:   r.Allowed,
		Kind:      budget.Kind,
		Limit:     dailyLimit,
		Remaining: r.Remaining,
		ResetTime: r.ResetTime,
		Exceeded:  string(r.Exceeded()),
		Tokens:    r.Tokens,
		Source:    string(r.Source),
	}
	if !r.Allowed {
		switch r.Exceeded() {
		case budget.ExceededBoth:
			out.Reason = "daily and monthly token budgets exceeded"
		case budget.ExceededMonthly:
			out.Reason = "monthly token budget exceeded"
		default:
			out.Reason = "daily token budget exceeded"
		}
	}
	return out
}
