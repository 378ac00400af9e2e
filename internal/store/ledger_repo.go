package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rogers-f/cadence/internal/domain"
)

// LedgerRepo persists ledger snapshots keyed by local day.
type LedgerRepo struct{}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save stores a snapshot for day.
func (r *LedgerRepo) Save(ctx context.Context, db Querier, day string, snap domain.LedgerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal ledger snapshot: %w", err)
	}
	const q = `INSERT INTO ledger_snapshots (day, snapshot_json, checksum, created_at) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, day, string(data), checksum(data), snap.TakenAt.Unix()); err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "save ledger snapshot", err)
	}
	return nil
}

// Latest returns the most recent snapshot for day, or nil if none exists.
// A stored snapshot whose checksum no longer matches yields ErrSnapshotCorrupt.
func (r *LedgerRepo) Latest(ctx context.Context, db Querier, day string) (*domain.LedgerSnapshot, error) {
	const q = `SELECT snapshot_json, checksum FROM ledger_snapshots
WHERE day = ?
ORDER BY id DESC
LIMIT 1`

	var data, sum string
	err := db.QueryRowContext(ctx, q, day).Scan(&data, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "latest ledger snapshot", err)
	}
	if checksum([]byte(data)) != sum {
		return nil, domain.Detail(domain.ErrSnapshotCorrupt, "day %s", day)
	}

	var snap domain.LedgerSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, domain.WrapEngineError(domain.ErrSnapshotCorrupt.Code, "decode ledger snapshot", err)
	}
	return &snap, nil
}

// Prune deletes snapshots older than the newest keep rows per day.
func (r *LedgerRepo) Prune(ctx context.Context, db Querier, day string, keep int) (int64, error) {
	const q = `DELETE FROM ledger_snapshots
WHERE day = ? AND id NOT IN (
	SELECT id FROM ledger_snapshots WHERE day = ? ORDER BY id DESC LIMIT ?
)`
	res, err := db.ExecContext(ctx, q, day, day, keep)
	if err != nil {
		return 0, domain.WrapEngineError(domain.ErrStoreWrite.Code, "prune ledger snapshots", err)
	}
	return res.RowsAffected()
}
