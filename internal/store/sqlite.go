// Package store provides SQLite-backed persistence for ledger snapshots,
// finished work units, audit records and journal entries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rogers-f/cadence/internal/domain"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`
CREATE TABLE ledger_snapshots (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	day           TEXT NOT NULL,
	snapshot_json TEXT NOT NULL,
	checksum      TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX idx_ledger_snapshots_day ON ledger_snapshots(day, id);

CREATE TABLE work_units (
	id             TEXT PRIMARY KEY,
	day            TEXT NOT NULL,
	category       TEXT NOT NULL,
	state          TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	target_phase   TEXT NOT NULL DEFAULT '',
	estimated_cost INTEGER NOT NULL DEFAULT 0,
	actual_cost    INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT NOT NULL DEFAULT '',
	unit_json      TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	finished_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_work_units_day ON work_units(day, category);
CREATE INDEX idx_work_units_finished ON work_units(finished_at);

CREATE TABLE audit_records (
	id          TEXT PRIMARY KEY,
	unit_id     TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}',
	severity    TEXT NOT NULL DEFAULT 'info',
	created_at  INTEGER NOT NULL
);
CREATE INDEX idx_audit_created ON audit_records(created_at);
`,
	`
CREATE TABLE journal_entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	day        TEXT NOT NULL,
	unit_id    TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX idx_journal_day ON journal_entries(day, id);
`,
}

// NewDB opens a SQLite database at the given path with recommended pragmas
// and brings the schema up to date.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "open database", err)
	}

	// WAL allows concurrent readers but a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SchemaVersion returns the highest applied migration.
func SchemaVersion(ctx context.Context, db Querier) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const bootstrap = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL DEFAULT 0
)`
	if _, err := db.ExecContext(ctx, bootstrap); err != nil {
		return domain.WrapEngineError(domain.ErrSchemaMigration.Code, "create schema_migrations", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return domain.WrapEngineError(domain.ErrSchemaMigration.Code, "read version", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return domain.WrapEngineError(domain.ErrSchemaMigration.Code, "begin", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return domain.WrapEngineError(domain.ErrSchemaMigration.Code, fmt.Sprintf("apply v%d", version), err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, time.Now().Unix()); err != nil {
			tx.Rollback()
			return domain.WrapEngineError(domain.ErrSchemaMigration.Code, fmt.Sprintf("record v%d", version), err)
		}
		if err := tx.Commit(); err != nil {
			return domain.WrapEngineError(domain.ErrSchemaMigration.Code, fmt.Sprintf("commit v%d", version), err)
		}
	}
	return nil
}
