package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rogers-f/cadence/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDB(openTestDB(t))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var day0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestLedgerRepo_SaveAndLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &LedgerRepo{}

	first := domain.LedgerSnapshot{TakenAt: day0, Allocations: []domain.Allocation{
		{Category: "research", DailyLimit: 100, Spent: 10, ResetAt: day0.Add(15 * time.Hour)},
	}}
	second := domain.LedgerSnapshot{TakenAt: day0.Add(time.Minute), Allocations: []domain.Allocation{
		{Category: "research", DailyLimit: 100, Spent: 25, Reserved: 5, ResetAt: day0.Add(15 * time.Hour)},
	}}
	for _, s := range []domain.LedgerSnapshot{first, second} {
		if err := repo.Save(ctx, db, "2026-03-14", s); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := repo.Latest(ctx, db, "2026-03-14")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	a := got.Allocations[0]
	if a.Spent != 25 || a.Reserved != 5 || a.DailyLimit != 100 {
		t.Errorf("allocation = %+v, want spent 25 reserved 5 limit 100", a)
	}
	if !a.ResetAt.Equal(day0.Add(15 * time.Hour)) {
		t.Errorf("ResetAt = %v, want %v", a.ResetAt, day0.Add(15*time.Hour))
	}

	none, err := repo.Latest(ctx, db, "2026-03-13")
	if err != nil {
		t.Fatalf("Latest other day: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for a day with no snapshot, got %+v", none)
	}
}

func TestLedgerRepo_DetectsCorruption(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &LedgerRepo{}

	snap := domain.LedgerSnapshot{TakenAt: day0, Allocations: []domain.Allocation{{Category: "growth", DailyLimit: 50, Spent: 5}}}
	if err := repo.Save(ctx, db, "2026-03-14", snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := db.Exec(`UPDATE ledger_snapshots SET snapshot_json = replace(snapshot_json, '"spent":5', '"spent":0')`); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	_, err := repo.Latest(ctx, db, "2026-03-14")
	if !errors.Is(err, domain.ErrSnapshotCorrupt) {
		t.Fatalf("Latest error = %v, want ErrSnapshotCorrupt", err)
	}
}

func TestLedgerRepo_Prune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &LedgerRepo{}

	for i := 0; i < 5; i++ {
		snap := domain.LedgerSnapshot{TakenAt: day0.Add(time.Duration(i) * time.Minute)}
		if err := repo.Save(ctx, db, "2026-03-14", snap); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	n, err := repo.Prune(ctx, db, "2026-03-14", 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	got, err := repo.Latest(ctx, db, "2026-03-14")
	if err != nil || got == nil {
		t.Fatalf("Latest after prune: %v %v", got, err)
	}
	if !got.TakenAt.Equal(day0.Add(4 * time.Minute)) {
		t.Errorf("latest TakenAt = %v, want newest", got.TakenAt)
	}
}

func finishedUnit(id string, cat domain.Category, state domain.WorkState, cost domain.Amount, at time.Time) domain.WorkUnit {
	return domain.WorkUnit{
		ID:         id,
		Category:   cat,
		Actions:    []string{"search"},
		State:      state,
		CreatedAt:  at.Add(-time.Minute),
		FinishedAt: at,
		Results:    []domain.ActionOutcome{{ActionID: "search", Success: state == domain.StateCompleted, ActualCost: cost}},
		Attempt:    1,
	}
}

func TestUnitRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &UnitRepo{}

	units := []domain.WorkUnit{
		finishedUnit("u1", "research", domain.StateCompleted, 7, day0),
		finishedUnit("u2", "research", domain.StateFailed, 3, day0.Add(time.Minute)),
		finishedUnit("u3", "growth", domain.StateCompleted, 11, day0.Add(2*time.Minute)),
	}
	for _, w := range units {
		if err := repo.Upsert(ctx, db, "2026-03-14", w); err != nil {
			t.Fatalf("Upsert %s: %v", w.ID, err)
		}
	}
	// A second write of the same unit replaces it.
	units[1].FailureReason = "search: timeout"
	if err := repo.Upsert(ctx, db, "2026-03-14", units[1]); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}

	list, err := repo.ListByDay(ctx, db, "2026-03-14")
	if err != nil {
		t.Fatalf("ListByDay: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].ID != "u1" || list[2].ID != "u3" {
		t.Errorf("order = %s,%s,%s", list[0].ID, list[1].ID, list[2].ID)
	}
	if list[1].FailureReason != "search: timeout" {
		t.Errorf("FailureReason = %q", list[1].FailureReason)
	}

	recent, err := repo.Recent(ctx, db, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "u3" {
		t.Errorf("Recent = %+v, want u3 first", recent)
	}

	spent, err := repo.SpentByCategory(ctx, db, "2026-03-14")
	if err != nil {
		t.Fatalf("SpentByCategory: %v", err)
	}
	if spent["research"] != 10 || spent["growth"] != 11 {
		t.Errorf("spent = %v", spent)
	}
}

func TestAuditRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &AuditRepo{}

	recs := []domain.AuditRecord{
		{ID: "a1", Actor: "operator", Action: "pause", Severity: "info", CreatedAt: 100},
		{ID: "a2", UnitID: "u1", Category: "research", Actor: "system", Action: "halt_category", DetailJSON: `{"error":"x"}`, Severity: "critical", CreatedAt: 200},
	}
	for _, r := range recs {
		if err := repo.Record(ctx, db, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := repo.Record(ctx, db, recs[0]); err != nil {
		t.Fatalf("duplicate Record: %v", err)
	}

	got, err := repo.ListSince(ctx, db, 150)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("ListSince = %+v", got)
	}
	if got[0].DetailJSON != `{"error":"x"}` {
		t.Errorf("DetailJSON = %q", got[0].DetailJSON)
	}

	all, err := repo.ListSince(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListSince(0): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len = %d, want 2", len(all))
	}
	if all[0].DetailJSON != "{}" {
		t.Errorf("default DetailJSON = %q", all[0].DetailJSON)
	}
}

func TestJournalWriter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	w := NewJournalWriter(db)

	for _, text := range []string{"first light", "tide turned"} {
		err := w.Append(ctx, domain.JournalEntry{Day: "2026-03-14", UnitID: "u1", Category: "journal", Text: text, CreatedAt: day0.Unix()})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := (&JournalRepo{}).ListByDay(ctx, db, "2026-03-14")
	if err != nil {
		t.Fatalf("ListByDay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Text != "first light" || entries[1].Text != "tide turned" {
		t.Errorf("entries = %+v", entries)
	}
	if entries[0].ID == 0 || entries[0].Category != "journal" {
		t.Errorf("entry = %+v", entries[0])
	}
}
