package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
)

// snapshotsPerDay bounds how many ledger snapshots are kept for one day.
const snapshotsPerDay = 48

// LedgerSource is the read side of the budget ledger.
type LedgerSource interface {
	Snapshot(now time.Time) domain.LedgerSnapshot
}

// Day formats t as the calendar day in loc used to key persisted rows.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

// BudgetDay is the day key of the budget period containing t. A budget day
// starts at resetOffset past local midnight, so with a 04:00 reset the small
// hours still belong to the previous day.
func BudgetDay(t time.Time, loc *time.Location, resetOffset time.Duration) string {
	return Day(t.In(loc).Add(-resetOffset), loc)
}

// SnapshotterOption configures a Snapshotter.
type SnapshotterOption func(*Snapshotter)

// WithLocation sets the zone used to derive day keys.
func WithLocation(loc *time.Location) SnapshotterOption {
	return func(s *Snapshotter) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithResetOffset keys ledger snapshots by budget day for a daily reset at
// this offset from midnight.
func WithResetOffset(d time.Duration) SnapshotterOption {
	return func(s *Snapshotter) { s.resetOffset = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SnapshotterOption {
	return func(s *Snapshotter) { s.now = now }
}

// Snapshotter is a write-behind persister. Finished units and audit records
// are buffered in memory and written, together with a ledger snapshot, on
// every interval and on Flush. Callers on the hot path never touch the database.
type Snapshotter struct {
	db       *sql.DB
	source   LedgerSource
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger

	resetOffset time.Duration

	ledgerRepo LedgerRepo
	unitRepo   UnitRepo
	auditRepo  AuditRepo

	flushMu sync.Mutex

	mu     sync.Mutex
	units  []domain.WorkUnit
	audits []domain.AuditRecord
}

// NewSnapshotter creates a snapshotter writing to db.
func NewSnapshotter(db *sql.DB, source LedgerSource, interval time.Duration, log zerolog.Logger, opts ...SnapshotterOption) *Snapshotter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Snapshotter{
		db:       db,
		source:   source,
		interval: interval,
		loc:      time.Local,
		now:      time.Now,
		log:      log.With().Str("component", "snapshotter").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Audit buffers an audit record.
func (s *Snapshotter) Audit(rec domain.AuditRecord) {
	s.mu.Lock()
	s.audits = append(s.audits, rec)
	s.mu.Unlock()
}

// UnitFinished buffers a terminal unit for the history table.
func (s *Snapshotter) UnitFinished(w domain.WorkUnit) {
	s.mu.Lock()
	s.units = append(s.units, w)
	s.mu.Unlock()
}

// Pending returns the number of buffered units and audit records.
func (s *Snapshotter) Pending() (units, audits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units), len(s.audits)
}

// Run flushes every interval until ctx is done, then flushes once more.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.Flush(final); err != nil {
				s.log.Error().Err(err).Msg("final flush")
				return err
			}
			s.log.Info().Msg("snapshotter stopped")
			return nil
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Error().Err(err).Msg("flush")
			}
		}
	}
}

// Flush writes a ledger snapshot and every buffered record in one
// transaction. On failure the buffered records are kept for the next attempt.
func (s *Snapshotter) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	units, audits := s.units, s.audits
	s.units, s.audits = nil, nil
	s.mu.Unlock()

	now := s.now()
	snap := s.source.Snapshot(now)
	day := BudgetDay(now, s.loc, s.resetOffset)

	err := s.write(ctx, day, snap, units, audits)
	if err != nil {
		s.mu.Lock()
		s.units = append(units, s.units...)
		s.audits = append(audits, s.audits...)
		s.mu.Unlock()
		return err
	}

	s.log.Debug().
		Str("day", day).
		Int("units", len(units)).
		Int("audits", len(audits)).
		Msg("snapshot flushed")
	return nil
}

func (s *Snapshotter) write(ctx context.Context, day string, snap domain.LedgerSnapshot, units []domain.WorkUnit, audits []domain.AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "begin flush", err)
	}
	defer tx.Rollback()

	if err := s.ledgerRepo.Save(ctx, tx, day, snap); err != nil {
		return err
	}
	if _, err := s.ledgerRepo.Prune(ctx, tx, day, snapshotsPerDay); err != nil {
		return err
	}
	for _, w := range units {
		at := w.FinishedAt
		if at.IsZero() {
			at = w.CreatedAt
		}
		if err := s.unitRepo.Upsert(ctx, tx, Day(at, s.loc), w); err != nil {
			return err
		}
	}
	for _, rec := range audits {
		if err := s.auditRepo.Record(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "commit flush", err)
	}
	return nil
}
