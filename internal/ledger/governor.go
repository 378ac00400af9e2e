package ledger

import "github.com/rogers-f/cadence/internal/domain"

// Governor classifies budget pressure for a category.
type Governor struct {
	// WarnRatio is the committed fraction of the limit at which pressure is
	// reported as warn (default 0.8).
	WarnRatio float64
	// HaltRatio is the committed fraction at which the category is reported
	// exhausted (default 1.0).
	HaltRatio float64
}

// NewGovernor creates a governor with standard thresholds.
func NewGovernor() Governor {
	return Governor{WarnRatio: 0.8, HaltRatio: 1.0}
}

// Evaluate returns the pressure level for an allocation. Reserved amounts
// count as committed.
func (g Governor) Evaluate(a domain.Allocation) domain.Pressure {
	if a.DailyLimit <= 0 {
		return domain.PressureExhausted
	}
	ratio := float64(a.Spent+a.Reserved) / float64(a.DailyLimit)
	if ratio >= g.HaltRatio {
		return domain.PressureExhausted
	}
	if ratio >= g.WarnRatio {
		return domain.PressureWarn
	}
	return domain.PressureOK
}

// Crossed reports whether moving from before to after raised the pressure
// level. The orchestrator uses it to log a single warning per crossing.
func (g Governor) Crossed(before, after domain.Allocation) (domain.Pressure, bool) {
	b, a := g.Evaluate(before), g.Evaluate(after)
	return a, rank(a) > rank(b)
}

func rank(p domain.Pressure) int {
	switch p {
	case domain.PressureWarn:
		return 1
	case domain.PressureExhausted:
		return 2
	}
	return 0
}
