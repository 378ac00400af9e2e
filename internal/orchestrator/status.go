package orchestrator

import (
	"github.com/rogers-f/cadence/internal/domain"
)

// Status returns a read-only snapshot for the observability surface.
func (o *Orchestrator) Status() domain.Status {
	allocs := o.ledger.Allocations()

	o.mu.Lock()
	o.drainInboxLocked()
	st := domain.Status{
		Paused:      o.paused,
		Categories:  make([]domain.CategoryStatus, 0, len(allocs)),
		Recent:      o.recentLocked(),
		GeneratedAt: o.now(),
	}
	for _, a := range allocs {
		c := o.categories[a.Category]
		st.Categories = append(st.Categories, domain.CategoryStatus{
			Allocation:   a,
			Pressure:     o.governor.Evaluate(a),
			Queued:       c.queue.Len(),
			InFlight:     c.inFlight,
			Denials:      c.denials,
			Halted:       c.halted != "",
			HaltedReason: c.halted,
			Blocked:      c.blocked,
		})
	}
	o.mu.Unlock()

	if o.phaseView != nil {
		st.CurrentPhase = o.phaseView.Current()
	}
	if o.phaseHolder != nil {
		st.PhaseQueues = o.phaseHolder.Depths()
	}
	return st
}

// Unit returns the current record of a unit that is queued, running, waiting
// for its phase, or recently finished.
func (o *Orchestrator) Unit(id string) (domain.WorkUnit, error) {
	o.mu.Lock()
	o.drainInboxLocked()
	if t, ok := o.units[id]; ok {
		o.mu.Unlock()
		return t.unit.Snapshot(), nil
	}
	for i := len(o.recent) - 1; i >= 0; i-- {
		if o.recent[i].ID == id {
			w := o.recent[i]
			o.mu.Unlock()
			return w, nil
		}
	}
	o.mu.Unlock()

	if o.phaseHolder != nil {
		if u, ok := o.phaseHolder.Lookup(id); ok {
			return u.Snapshot(), nil
		}
	}
	return domain.WorkUnit{}, domain.Detail(domain.ErrUnitNotFound, "%s", id)
}

// Recent returns summaries of recently finished units, newest first.
func (o *Orchestrator) Recent() []domain.WorkUnitSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recentLocked()
}

// InFlight returns the number of running units across all categories.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.categories {
		n += c.inFlight
	}
	return n
}

// Queued returns the number of units waiting in category queues.
func (o *Orchestrator) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drainInboxLocked()
	n := 0
	for _, c := range o.categories {
		n += c.queue.Len()
	}
	return n
}

func (o *Orchestrator) recentLocked() []domain.WorkUnitSummary {
	out := make([]domain.WorkUnitSummary, 0, len(o.recent))
	for i := len(o.recent) - 1; i >= 0; i-- {
		out = append(out, o.recent[i].Summary())
	}
	return out
}

func (o *Orchestrator) finishedLocked(id string) bool {
	for _, w := range o.recent {
		if w.ID == id {
			return true
		}
	}
	return false
}
