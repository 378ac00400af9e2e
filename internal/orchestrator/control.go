package orchestrator

import (
	"container/heap"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rogers-f/cadence/internal/domain"
)

// Pause stops dispatch. Queued units stay queued and in-flight units run to
// completion; daily resets and TTL expiry continue.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	o.log.Info().Msg("dispatch paused")
	o.audit(domain.AuditRecord{Actor: "operator", Action: "pause", Severity: "info"}, nil)
}

// Resume re-enables dispatch.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.log.Info().Msg("dispatch resumed")
	o.audit(domain.AuditRecord{Actor: "operator", Action: "resume", Severity: "info"}, nil)
}

// Paused reports whether dispatch is paused.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Cancel asks a unit to stop. A queued unit is cancelled immediately; a
// running unit observes the request before its next action, after which any
// uncommitted reservation is released. Units still waiting for their phase
// are taken out of the phase queue and cancelled.
func (o *Orchestrator) Cancel(id, reason string) error {
	if reason == "" {
		reason = "cancelled by operator"
	}

	o.mu.Lock()
	o.drainInboxLocked()
	t, ok := o.units[id]
	if ok && t.running {
		t.reason = reason
		cancel := t.cancel
		o.mu.Unlock()
		cancel()
		o.auditCancel(id, t.category, reason)
		return nil
	}
	if ok {
		o.categories[t.category].queue.remove(t)
		err := t.unit.Cancel(o.now(), reason)
		o.mu.Unlock()
		if err != nil {
			return err
		}
		o.finish(t)
		o.auditCancel(id, t.category, reason)
		return nil
	}
	finished := o.finishedLocked(id)
	o.mu.Unlock()

	if finished {
		return domain.Detail(domain.ErrInvalidTransition, "unit %s already finished", id)
	}
	if o.phaseHolder != nil {
		if u, ok := o.phaseHolder.Take(id); ok {
			if err := u.Schedule(); err != nil {
				return err
			}
			if err := u.Cancel(o.now(), reason); err != nil {
				return err
			}
			o.finish(&tracked{unit: u, category: u.Category()})
			o.auditCancel(id, u.Category(), reason)
			return nil
		}
	}
	return domain.Detail(domain.ErrUnitNotFound, "%s", id)
}

func (o *Orchestrator) auditCancel(id string, cat domain.Category, reason string) {
	o.log.Info().Str("unit", id).Str("reason", reason).Msg("unit cancel requested")
	o.audit(domain.AuditRecord{
		UnitID:   id,
		Category: string(cat),
		Actor:    "operator",
		Action:   "cancel",
		Severity: "info",
	}, map[string]any{"reason": reason})
}

// Trigger moves a queued unit to the front of its category queue. A unit
// still waiting for its phase is released early. Budget is still checked.
func (o *Orchestrator) Trigger(id string) error {
	o.mu.Lock()
	o.drainInboxLocked()
	if t, ok := o.units[id]; ok {
		if t.running {
			o.mu.Unlock()
			return domain.Detail(domain.ErrInvalidTransition, "unit %s is already running", id)
		}
		t.triggered = true
		c := o.categories[t.category]
		if t.index >= 0 && t.index < c.queue.Len() && c.queue[t.index] == t {
			heap.Fix(&c.queue, t.index)
		}
		o.mu.Unlock()
		o.auditTrigger(id, t.category)
		return nil
	}
	finished := o.finishedLocked(id)
	o.mu.Unlock()

	if finished {
		return domain.Detail(domain.ErrInvalidTransition, "unit %s already finished", id)
	}
	if o.phaseHolder != nil {
		if u, ok := o.phaseHolder.Take(id); ok {
			if err := u.Schedule(); err != nil {
				return err
			}
			o.mu.Lock()
			o.enqueueLocked(u, true)
			o.mu.Unlock()
			o.auditTrigger(id, u.Category())
			return nil
		}
	}
	return domain.Detail(domain.ErrUnitNotFound, "%s", id)
}

func (o *Orchestrator) auditTrigger(id string, cat domain.Category) {
	o.log.Info().Str("unit", id).Msg("unit triggered")
	o.audit(domain.AuditRecord{
		UnitID:   id,
		Category: string(cat),
		Actor:    "operator",
		Action:   "trigger",
		Severity: "info",
	}, nil)
}

// AdjustBudget tops up (or reduces) a category's limit for the current day.
func (o *Orchestrator) AdjustBudget(cat domain.Category, delta domain.Amount) (domain.Allocation, error) {
	a, err := o.ledger.Adjust(cat, delta)
	if err != nil {
		return a, err
	}
	o.mu.Lock()
	o.categories[cat].blocked = ""
	o.mu.Unlock()

	o.log.Info().
		Str("category", string(cat)).
		Int64("delta", int64(delta)).
		Int64("limit", int64(a.DailyLimit)).
		Msg("budget adjusted")
	o.audit(domain.AuditRecord{
		Category: string(cat),
		Actor:    "operator",
		Action:   "adjust_budget",
		Severity: "info",
	}, map[string]any{"delta": delta, "daily_limit": a.DailyLimit})
	return a, nil
}

// ResumeCategory clears a halt so the category dispatches again.
func (o *Orchestrator) ResumeCategory(cat domain.Category) error {
	o.mu.Lock()
	c, ok := o.categories[cat]
	if !ok {
		o.mu.Unlock()
		return domain.Detail(domain.ErrUnknownCategory, "%q", cat)
	}
	prev := c.halted
	c.halted = ""
	o.mu.Unlock()

	if prev == "" {
		return nil
	}
	o.log.Info().Str("category", string(cat)).Msg("category resumed")
	o.audit(domain.AuditRecord{
		Category: string(cat),
		Actor:    "operator",
		Action:   "resume_category",
		Severity: "info",
	}, map[string]any{"halted_reason": prev})
	return nil
}

// Halted returns the halt reason for a category, or "".
func (o *Orchestrator) Halted(cat domain.Category) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.categories[cat]; ok {
		return c.halted
	}
	return ""
}

func (o *Orchestrator) audit(rec domain.AuditRecord, detail map[string]any) {
	if o.auditor == nil {
		return
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = o.now().Unix()
	rec.DetailJSON = "{}"
	if len(detail) > 0 {
		if b, err := json.Marshal(detail); err == nil {
			rec.DetailJSON = string(b)
		}
	}
	o.auditor.Audit(rec)
}
