// Package budget provides the token budget limiter.
//
// # Overview
//
// Every user has two counters, daily:{user} and monthly:{user}. A charge
// increments both inside one store script, repairs missing expiries, and
// rolls both back when either cap would be exceeded. A counter sitting
// exactly at its cap is valid; the next non-zero charge is denied.
//
// # Usage
//
//	l := budget.NewTokenBudgetLimiter(s, b, budget.Config{
//	    DailyLimit:   50000,
//	    MonthlyLimit: 1000000,
//	})
//
//	// Before generating: charge the estimate.
//	res, err := l.CheckAndCharge(ctx, "u1", estimate)
//	if !res.Allowed {
//	    // res.Exceeded() is daily, monthly or both
//	}
//
//	// After generating: charge whatever the estimate missed.
//	_, _ = l.Adjust(ctx, "u1", estimate, actual)
//
// # Failure Handling
//
// Token budgets fail open. With the breaker open, or when the store errors,
// the charge is admitted without being recorded. Budget accuracy during an
// outage is traded for keeping responses flowing.
package budget
