package store

import (
	"context"
	"fmt"

	"github.com/rogers-f/cadence/internal/domain"
)

// AuditRepo handles persistence for AuditRecord entries.
type AuditRepo struct{}

// Record inserts an audit record. Re-recording the same id is a no-op.
func (r *AuditRepo) Record(ctx context.Context, db Querier, rec domain.AuditRecord) error {
	if rec.DetailJSON == "" {
		rec.DetailJSON = "{}"
	}
	const q = `INSERT OR IGNORE INTO audit_records (id, unit_id, category, actor, action, detail_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.UnitID,
		rec.Category,
		rec.Actor,
		rec.Action,
		rec.DetailJSON,
		rec.Severity,
		rec.CreatedAt,
	)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "record audit", err)
	}
	return nil
}

// ListSince returns audit records created at or after since (unix seconds),
// oldest first.
func (r *AuditRepo) ListSince(ctx context.Context, db Querier, since int64) ([]domain.AuditRecord, error) {
	const q = `SELECT id, unit_id, category, actor, action, detail_json, severity, created_at
FROM audit_records
WHERE created_at >= ?
ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, since)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list audit records", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.UnitID, &a.Category, &a.Actor, &a.Action,
			&a.DetailJSON, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
