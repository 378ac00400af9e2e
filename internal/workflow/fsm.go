// Package workflow implements the work unit lifecycle state machine.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rogers-f/cadence/internal/domain"
)

// validTransitions defines the legal work unit transitions.
// Each key is a source state, and the value is the set of valid target states.
// Terminal states have no entry.
var validTransitions = map[domain.WorkState]map[domain.WorkState]bool{
	domain.StatePlanned: {domain.StateScheduled: true},
	domain.StateScheduled: {
		domain.StateRunning:   true,
		domain.StateFailed:    true, // UnknownAction, BudgetTimeout
		domain.StateCancelled: true,
	},
	domain.StateRunning: {
		domain.StateCompleted: true,
		domain.StateFailed:    true,
		domain.StateCancelled: true,
	},
}

// IsValidTransition checks if a state transition is legal.
func IsValidTransition(from, to domain.WorkState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Unit is the mutable, lock-protected record of one work unit. Only the
// orchestrator's execution supervisor and the phase queue mutate it.
type Unit struct {
	mu sync.Mutex
	u  domain.WorkUnit
}

// NewUnit builds a PLANNED unit from a descriptor.
func NewUnit(desc domain.WorkUnitDescriptor, estimated domain.Amount, now time.Time) (*Unit, error) {
	if len(desc.Actions) == 0 {
		return nil, domain.ErrEmptySequence
	}
	if desc.Category == "" {
		return nil, domain.Detail(domain.ErrUnknownCategory, "category is required")
	}
	target := desc.TargetPhase
	if target == "" {
		target = domain.PhaseImmediate
	}
	return &Unit{u: domain.WorkUnit{
		ID:            uuid.NewString(),
		Category:      desc.Category,
		Actions:       append([]string(nil), desc.Actions...),
		Priority:      desc.Priority,
		TargetPhase:   target,
		EstimatedCost: estimated,
		FocusText:     desc.FocusText,
		State:         domain.StatePlanned,
		CreatedAt:     now,
		Attempt:       1,
	}}, nil
}

// Restore wraps an existing record, e.g. one loaded for display. The record
// is copied so later mutations do not alias the caller's slices.
func Restore(w domain.WorkUnit) *Unit {
	w.Actions = append([]string(nil), w.Actions...)
	w.Results = append([]domain.ActionOutcome(nil), w.Results...)
	return &Unit{u: w}
}

// ID returns the unit id.
func (x *Unit) ID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.u.ID
}

// Category returns the unit's category.
func (x *Unit) Category() domain.Category {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.u.Category
}

// Priority returns the unit's priority; lower runs first.
func (x *Unit) Priority() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.u.Priority
}

// State returns the unit's current state.
func (x *Unit) State() domain.WorkState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.u.State
}

// CreatedAt returns when the unit was planned.
func (x *Unit) CreatedAt() time.Time {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.u.CreatedAt
}

// Snapshot returns a deep copy of the record.
func (x *Unit) Snapshot() domain.WorkUnit {
	x.mu.Lock()
	defer x.mu.Unlock()
	w := x.u
	w.Actions = append([]string(nil), x.u.Actions...)
	w.Results = append([]domain.ActionOutcome(nil), x.u.Results...)
	return w
}

// transition moves the unit to state `to`. Illegal moves, including any move
// out of a terminal state, leave the unit untouched and return
// ErrInvalidTransition; callers treat that as a programming error.
func (x *Unit) transition(to domain.WorkState, mutate func(*domain.WorkUnit)) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !IsValidTransition(x.u.State, to) {
		return domain.Detail(domain.ErrInvalidTransition, "unit %s: %s -> %s", x.u.ID, x.u.State, to)
	}
	x.u.State = to
	if mutate != nil {
		mutate(&x.u)
	}
	return nil
}

// Schedule moves PLANNED -> SCHEDULED.
func (x *Unit) Schedule() error {
	return x.transition(domain.StateScheduled, nil)
}

// Start moves SCHEDULED -> RUNNING.
func (x *Unit) Start(now time.Time) error {
	return x.transition(domain.StateRunning, func(w *domain.WorkUnit) {
		w.StartedAt = now
	})
}

// Record appends one action outcome. Only a RUNNING unit accepts outcomes.
func (x *Unit) Record(o domain.ActionOutcome) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.u.State != domain.StateRunning {
		return domain.Detail(domain.ErrInvalidTransition, "unit %s: record outcome in state %s", x.u.ID, x.u.State)
	}
	x.u.Results = append(x.u.Results, o)
	return nil
}

// Complete moves RUNNING -> COMPLETED. Every recorded outcome must be a success
// and the result list must cover the whole sequence.
func (x *Unit) Complete(now time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !IsValidTransition(x.u.State, domain.StateCompleted) {
		return domain.Detail(domain.ErrInvalidTransition, "unit %s: %s -> %s", x.u.ID, x.u.State, domain.StateCompleted)
	}
	if len(x.u.Results) != len(x.u.Actions) {
		return domain.Detail(domain.ErrInvalidTransition, "unit %s: complete with %d of %d results",
			x.u.ID, len(x.u.Results), len(x.u.Actions))
	}
	for _, r := range x.u.Results {
		if !r.Success {
			return domain.Detail(domain.ErrInvalidTransition, "unit %s: complete with failed action %s", x.u.ID, r.ActionID)
		}
	}
	x.u.State = domain.StateCompleted
	x.u.FinishedAt = now
	return nil
}

// Fail moves SCHEDULED or RUNNING -> FAILED with the given reason.
func (x *Unit) Fail(now time.Time, reason string) error {
	return x.transition(domain.StateFailed, func(w *domain.WorkUnit) {
		w.FinishedAt = now
		w.FailureReason = reason
	})
}

// Cancel moves SCHEDULED or RUNNING -> CANCELLED.
func (x *Unit) Cancel(now time.Time, reason string) error {
	return x.transition(domain.StateCancelled, func(w *domain.WorkUnit) {
		w.FinishedAt = now
		w.FailureReason = reason
	})
}

// Retry builds a fresh PLANNED unit for another attempt of a failed unit.
func (x *Unit) Retry(now time.Time) (*Unit, error) {
	w := x.Snapshot()
	if w.State != domain.StateFailed {
		return nil, domain.Detail(domain.ErrInvalidTransition, "unit %s: retry from %s", w.ID, w.State)
	}
	return &Unit{u: domain.WorkUnit{
		ID:            uuid.NewString(),
		Category:      w.Category,
		Actions:       w.Actions,
		Priority:      w.Priority,
		TargetPhase:   domain.PhaseImmediate,
		EstimatedCost: w.EstimatedCost,
		FocusText:     w.FocusText,
		State:         domain.StatePlanned,
		CreatedAt:     now,
		Attempt:       w.Attempt + 1,
		ParentID:      w.ID,
	}}, nil
}

// String implements fmt.Stringer for log output.
func (x *Unit) String() string {
	w := x.Snapshot()
	return fmt.Sprintf("%s[%s %s p=%d]", w.ID, w.Category, w.State, w.Priority)
}
