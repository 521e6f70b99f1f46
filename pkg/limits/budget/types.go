package budget

import (
	"errors"
	"time"

	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
)

// Kind is the limit kind token budgets are registered under in the breaker
// fallback policy.
const Kind = "tokens"

// ErrInvalidTokenCount is returned for negative charges.
var ErrInvalidTokenCount = errors.New("token count must not be negative")

// Config contains the token caps and their horizons.
type Config struct {
	// DailyLimit is the maximum tokens per user per day.
	DailyLimit int64

	// MonthlyLimit is the maximum tokens per user per month.
	MonthlyLimit int64

	// DailyTTL is the lifetime of the daily counter. Default 24h.
	DailyTTL time.Duration

	// MonthlyTTL is the lifetime of the monthly counter. Default 30 days.
	MonthlyTTL time.Duration
}

// DefaultConfig returns the built-in budget.
func DefaultConfig() Config {
	return Config{
		DailyLimit:   50000,
		MonthlyLimit: 1000000,
		DailyTTL:     24 * time.Hour,
		MonthlyTTL:   30 * 24 * time.Hour,
	}
}

// Exceeded classifies which cap caused a denial.
type Exceeded string

const (
	ExceededNone    Exceeded = ""
	ExceededDaily   Exceeded = "daily"
	ExceededMonthly Exceeded = "monthly"
	ExceededBoth    Exceeded = "both"
)

// Result is the outcome of a charge.
type Result struct {
	// Allowed indicates if the tokens were charged.
	Allowed bool

	// Tokens is the amount that was submitted for charging.
	Tokens int64

	// Remaining is the budget available now across both caps. On a fallback
	// it is a placeholder equal to the daily limit.
	Remaining int64

	// DailyUsed and MonthlyUsed are the counters after the call. Zero when
	// the store was not consulted.
	DailyUsed   int64
	MonthlyUsed int64

	// ExceededDaily and ExceededMonthly explain a denial.
	ExceededDaily   bool
	ExceededMonthly bool

	// ResetTime is when the earliest of the two counters expires.
	ResetTime time.Time

	// Source records how the decision was made. Empty when no charge was
	// needed.
	Source store.Source
}

// Exceeded returns the denial classification.
func (r Result) Exceeded() Exceeded {
	switch {
	case r.ExceededDaily && r.ExceededMonthly:
		return ExceededBoth
	case r.ExceededDaily:
		return ExceededDaily
	case r.ExceededMonthly:
		return ExceededMonthly
	default:
		return ExceededNone
	}
}
