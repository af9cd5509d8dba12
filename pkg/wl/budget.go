package wl

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Budget is a wall-clock allowance measured from one shared start instant.
// Exceeding it is never an error: long-running operations stop at their next
// check point and report Truncated.
type Budget struct {
	clock clock.Clock
	start time.Time
	max   time.Duration
}

type BudgetOption func(*Budget)

// WithClock swaps the wall clock, mostly for tests.
func WithClock(c clock.Clock) BudgetOption {
	return func(b *Budget) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewBudget returns a budget of max starting at start. max <= 0 never expires.
func NewBudget(start time.Time, max time.Duration, opts ...BudgetOption) Budget {
	b := Budget{clock: clock.New(), start: start, max: max}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// StartBudget returns a budget of max starting now on the budget's clock.
func StartBudget(max time.Duration, opts ...BudgetOption) Budget {
	b := NewBudget(time.Time{}, max, opts...)
	b.start = b.clock.Now()
	return b
}

// Unlimited never expires.
func Unlimited() Budget {
	return Budget{clock: clock.New()}
}

// Expired reports whether more than max has elapsed since start.
func (b Budget) Expired() bool {
	if b.max <= 0 {
		return false
	}
	return b.Elapsed() > b.max
}

// Elapsed is the time since start.
func (b Budget) Elapsed() time.Duration {
	if b.clock == nil {
		return 0
	}
	return b.clock.Since(b.start)
}

// Max returns the allowance; zero means unlimited.
func (b Budget) Max() time.Duration {
	return b.max
}
