package ratelimit

import (
	"errors"
	"time"

	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
)

// ErrUnknownKind is returned when a check names a limit kind that is not
// configured. It signals a deployment defect, not a runtime condition.
var ErrUnknownKind = errors.New("unknown limit kind")

// KindConfig is the window configuration for one limit kind.
type KindConfig struct {
	// MaxRequests is the number of operations allowed per window.
	MaxRequests int64

	// Window is the fixed window length.
	Window time.Duration
}

// DefaultKinds returns the built-in limit table.
func DefaultKinds() map[string]KindConfig {
	return map[string]KindConfig{
		"messages":      {MaxRequests: 30, Window: 60 * time.Second},
		"conversations": {MaxRequests: 5, Window: 60 * time.Second},
	}
}

// Result is the outcome of a fixed-window check.
type Result struct {
	// Allowed indicates if the operation may proceed.
	Allowed bool

	// Kind is the limit kind that was checked.
	Kind string

	// Limit is the configured maximum for the window.
	Limit int64

	// Remaining is the number of operations left in the window. When Source
	// is store_error it is a placeholder and must not be read as restored
	// capacity.
	Remaining int64

	// Count is the counter value after the increment. Zero when the store
	// was not consulted.
	Count int64

	// ResetTime is when the current window ends.
	ResetTime time.Time

	// Source records how the decision was made.
	Source store.Source
}
