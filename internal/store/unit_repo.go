package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rogers-f/cadence/internal/domain"
)

// UnitRepo persists finished work units for history and audit.
type UnitRepo struct{}

// Upsert writes the unit under day, replacing any earlier record with the same id.
func (r *UnitRepo) Upsert(ctx context.Context, db Querier, day string, w domain.WorkUnit) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal unit %s: %w", w.ID, err)
	}
	var finished int64
	if !w.FinishedAt.IsZero() {
		finished = w.FinishedAt.Unix()
	}

	const q = `INSERT INTO work_units
	(id, day, category, state, priority, target_phase, estimated_cost, actual_cost, failure_reason, unit_json, created_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	day = excluded.day,
	state = excluded.state,
	actual_cost = excluded.actual_cost,
	failure_reason = excluded.failure_reason,
	unit_json = excluded.unit_json,
	finished_at = excluded.finished_at`
	_, err = db.ExecContext(ctx, q,
		w.ID,
		day,
		string(w.Category),
		string(w.State),
		w.Priority,
		string(w.TargetPhase),
		int64(w.EstimatedCost),
		int64(w.ActualCost()),
		w.FailureReason,
		string(data),
		w.CreatedAt.Unix(),
		finished,
	)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "upsert unit "+w.ID, err)
	}
	return nil
}

// ListByDay returns every unit recorded for day in finish order.
func (r *UnitRepo) ListByDay(ctx context.Context, db Querier, day string) ([]domain.WorkUnit, error) {
	const q = `SELECT unit_json FROM work_units WHERE day = ? ORDER BY finished_at ASC, id ASC`
	return r.query(ctx, db, q, day)
}

// Recent returns up to limit units, newest first.
func (r *UnitRepo) Recent(ctx context.Context, db Querier, limit int) ([]domain.WorkUnit, error) {
	const q = `SELECT unit_json FROM work_units ORDER BY finished_at DESC, id DESC LIMIT ?`
	return r.query(ctx, db, q, limit)
}

// SpentByCategory sums recorded actual cost per category for day. It is an
// audit cross-check against the ledger, not a source of truth.
func (r *UnitRepo) SpentByCategory(ctx context.Context, db Querier, day string) (map[domain.Category]domain.Amount, error) {
	const q = `SELECT category, COALESCE(SUM(actual_cost), 0) FROM work_units WHERE day = ? GROUP BY category`
	rows, err := db.QueryContext(ctx, q, day)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "spent by category", err)
	}
	defer rows.Close()

	out := make(map[domain.Category]domain.Amount)
	for rows.Next() {
		var cat string
		var sum int64
		if err := rows.Scan(&cat, &sum); err != nil {
			return nil, fmt.Errorf("scan spent row: %w", err)
		}
		out[domain.Category(cat)] = domain.Amount(sum)
	}
	return out, rows.Err()
}

func (r *UnitRepo) query(ctx context.Context, db Querier, q string, args ...any) ([]domain.WorkUnit, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list units", err)
	}
	defer rows.Close()

	var units []domain.WorkUnit
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		var w domain.WorkUnit
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			return nil, fmt.Errorf("decode unit: %w", err)
		}
		units = append(units, w)
	}
	return units, rows.Err()
}
