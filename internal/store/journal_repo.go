package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rogers-f/cadence/internal/domain"
)

// JournalRepo handles persistence for journal entries.
type JournalRepo struct{}

// Append inserts an entry and returns its id.
func (r *JournalRepo) Append(ctx context.Context, db Querier, e domain.JournalEntry) (int64, error) {
	const q = `INSERT INTO journal_entries (day, unit_id, category, text, created_at) VALUES (?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, q, e.Day, e.UnitID, string(e.Category), e.Text, e.CreatedAt)
	if err != nil {
		return 0, domain.WrapEngineError(domain.ErrStoreWrite.Code, "append journal entry", err)
	}
	return res.LastInsertId()
}

// ListByDay returns the entries written on day in insertion order.
func (r *JournalRepo) ListByDay(ctx context.Context, db Querier, day string) ([]domain.JournalEntry, error) {
	const q = `SELECT id, day, unit_id, category, text, created_at
FROM journal_entries
WHERE day = ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, day)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list journal entries", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var cat string
		if err := rows.Scan(&e.ID, &e.Day, &e.UnitID, &cat, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Category = domain.Category(cat)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// JournalWriter adapts JournalRepo to the journal action.
type JournalWriter struct {
	DB   *sql.DB
	repo JournalRepo
}

// NewJournalWriter returns a writer appending to db.
func NewJournalWriter(db *sql.DB) *JournalWriter {
	return &JournalWriter{DB: db}
}

// Append writes e immediately; journal entries are not batched.
func (w *JournalWriter) Append(ctx context.Context, e domain.JournalEntry) error {
	_, err := w.repo.Append(ctx, w.DB, e)
	return err
}
