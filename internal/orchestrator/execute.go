package orchestrator

import (
	"context"
	"errors"
	"slices"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/ledger"
	"github.com/rogers-f/cadence/internal/registry"
)

type ending struct {
	state  domain.WorkState
	reason string
	retry  bool
}

// execute is the supervisor for one RUNNING unit. It owns the unit until the
// unit reaches a terminal state, then releases the category slot.
func (o *Orchestrator) execute(ctx context.Context, t *tracked, table *registry.Table, first ledger.Reservation) {
	defer o.wg.Done()
	defer t.cancel()

	end := o.runSequence(ctx, t, table, first)
	now := o.now()
	id := t.unit.ID()

	var err error
	switch end.state {
	case domain.StateCompleted:
		err = t.unit.Complete(now)
	case domain.StateCancelled:
		err = t.unit.Cancel(now, end.reason)
	default:
		err = t.unit.Fail(now, end.reason)
	}
	if err != nil {
		o.log.Error().Str("unit", id).Err(err).Msg("terminal transition rejected")
	}

	o.finish(t)
	o.categories[t.category].sem.Release(1)

	if end.retry {
		o.retry(t)
	}
}

// runSequence executes the unit's actions in order. The first action's
// reservation was taken at dispatch; every later action reserves its own
// estimate just before it runs. Cancellation is observed between actions.
func (o *Orchestrator) runSequence(ctx context.Context, t *tracked, table *registry.Table, first ledger.Reservation) ending {
	w := t.unit.Snapshot()
	cat := t.category
	res := first

	for i, actionID := range w.Actions {
		if i > 0 {
			if ctx.Err() != nil {
				return o.cancelled(t)
			}
			entry, err := table.Get(actionID)
			if err != nil {
				return ending{state: domain.StateFailed, reason: domain.ReasonUnknownAction + ": " + actionID}
			}
			r, ok, remaining, err := o.ledger.TryReserve(cat, entry.Definition.EstimatedCost)
			if err != nil {
				o.halt(cat, w.ID, err)
				return ending{state: domain.StateFailed, reason: domain.ReasonLedger + ": " + err.Error()}
			}
			if !ok {
				o.log.Info().
					Str("unit", w.ID).
					Str("action", actionID).
					Int64("available", int64(remaining)).
					Msg("budget denied mid-sequence")
				return ending{state: domain.StateFailed, reason: domain.ReasonBudgetDenied + ": " + actionID}
			}
			res = r
		} else if ctx.Err() != nil {
			if err := o.ledger.Release(res); err != nil {
				o.halt(cat, w.ID, err)
			}
			return o.cancelled(t)
		}

		before, _ := o.ledger.Allocation(cat)
		result, execErr := table.Execute(ctx, actionID, registry.Request{
			UnitID:    w.ID,
			Category:  cat,
			FocusText: w.FocusText,
			Reserved:  res.Amount,
		})

		commitErr := o.ledger.Commit(res, result.ActualCost)
		if err := t.unit.Record(domain.ActionOutcome{
			ActionID:   actionID,
			Success:    execErr == nil,
			ActualCost: result.ActualCost,
			Payload:    result.Payload,
			Error:      result.Error,
		}); err != nil {
			o.log.Error().Str("unit", w.ID).Err(err).Msg("record outcome")
		}
		if errors.Is(commitErr, domain.ErrReservationStale) {
			o.dropped(w.ID, cat, actionID, result.ActualCost, commitErr)
			commitErr = nil
		}
		if commitErr != nil {
			o.halt(cat, w.ID, commitErr)
			return ending{state: domain.StateFailed, reason: domain.ReasonLedger + ": " + commitErr.Error()}
		}
		if after, err := o.ledger.Allocation(cat); err == nil {
			if p, crossed := o.governor.Crossed(before, after); crossed {
				o.log.Warn().
					Str("category", string(cat)).
					Str("pressure", string(p)).
					Int64("spent", int64(after.Spent)).
					Int64("limit", int64(after.DailyLimit)).
					Msg("budget pressure rising")
			}
		}

		if execErr != nil {
			switch {
			case ctx.Err() != nil && !result.Fault:
				return o.cancelled(t)
			case result.Fault:
				o.log.Warn().Str("unit", w.ID).Str("action", actionID).Err(execErr).Msg("action handler fault")
				return ending{state: domain.StateFailed, reason: domain.ReasonHandlerFault + ": " + actionID}
			case errors.Is(execErr, domain.ErrActionFailure):
				o.log.Info().Str("unit", w.ID).Str("action", actionID).Err(execErr).Msg("action failed")
				return ending{
					state:  domain.StateFailed,
					reason: execErr.Error(),
					retry:  w.Attempt <= o.cfg.RetryLimit,
				}
			default:
				return ending{state: domain.StateFailed, reason: execErr.Error()}
			}
		}
	}
	return ending{state: domain.StateCompleted}
}

func (o *Orchestrator) cancelled(t *tracked) ending {
	o.mu.Lock()
	reason := t.reason
	o.mu.Unlock()
	if reason == "" {
		reason = "shutdown"
	}
	return ending{state: domain.StateCancelled, reason: reason}
}

func (o *Orchestrator) retry(t *tracked) {
	next, err := t.unit.Retry(o.now())
	if err != nil {
		o.log.Error().Str("unit", t.unit.ID()).Err(err).Msg("build retry")
		return
	}
	if err := o.Submit(next); err != nil {
		o.log.Error().Str("unit", next.ID()).Err(err).Msg("submit retry")
		return
	}
	w := next.Snapshot()
	o.log.Info().Str("unit", w.ID).Str("parent", w.ParentID).Int("attempt", w.Attempt).Msg("retry scheduled")
}

// finish records a terminal unit and notifies listeners.
func (o *Orchestrator) finish(t *tracked) {
	w := t.unit.Snapshot()

	o.mu.Lock()
	if cur, ok := o.units[w.ID]; ok && cur == t {
		delete(o.units, w.ID)
	}
	if t.running {
		t.running = false
		o.categories[t.category].inFlight--
	}
	o.recent = append(o.recent, w)
	if n := len(o.recent) - o.cfg.RecentLimit; n > 0 {
		o.recent = append([]domain.WorkUnit(nil), o.recent[n:]...)
	}
	listeners := slices.Clone(o.listeners)
	o.mu.Unlock()

	ev := o.log.Info()
	if w.State != domain.StateCompleted {
		ev = o.log.Warn()
	}
	ev.Str("unit", w.ID).
		Str("category", string(w.Category)).
		Str("state", string(w.State)).
		Str("reason", w.FailureReason).
		Int64("cost", int64(w.ActualCost())).
		Msg("unit finished")

	for _, fn := range listeners {
		fn(w)
	}
}

// dropped records spend that landed after a daily reset and was charged to
// neither day.
func (o *Orchestrator) dropped(unitID string, cat domain.Category, actionID string, cost domain.Amount, cause error) {
	o.log.Warn().
		Str("unit", unitID).
		Str("category", string(cat)).
		Str("action", actionID).
		Int64("cost", int64(cost)).
		Msg("daily reset during action, cost not charged")
	o.audit(domain.AuditRecord{
		UnitID:   unitID,
		Category: string(cat),
		Actor:    "system",
		Action:   "uncharged_cost",
		Severity: "warning",
	}, map[string]any{"action": actionID, "cost": cost, "error": cause.Error()})
}

// halt stops dispatch for a category after a ledger invariant violation.
func (o *Orchestrator) halt(cat domain.Category, unitID string, cause error) {
	o.mu.Lock()
	o.categories[cat].halted = cause.Error()
	o.mu.Unlock()

	o.log.Error().
		Str("category", string(cat)).
		Str("unit", unitID).
		Err(cause).
		Msg("ledger invariant violated, category halted")
	o.audit(domain.AuditRecord{
		UnitID:   unitID,
		Category: string(cat),
		Actor:    "system",
		Action:   "halt_category",
		Severity: "critical",
	}, map[string]any{"error": cause.Error()})
}
