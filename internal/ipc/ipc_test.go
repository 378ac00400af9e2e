package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/planner"
	"github.com/rogers-f/cadence/internal/store"
)

type fakeController struct {
	mu        sync.Mutex
	units     map[string]domain.WorkUnit
	paused    bool
	triggered []string
	cancelled map[string]string
	adjusted  map[domain.Category]domain.Amount
	resumed   []domain.Category
}

func newFakeController() *fakeController {
	return &fakeController{
		units: map[string]domain.WorkUnit{
			"u1": {ID: "u1", Category: "research", State: domain.StateScheduled, Actions: []string{"search"}},
			"u2": {ID: "u2", Category: "research", State: domain.StateCompleted, Actions: []string{"search"}},
		},
		cancelled: map[string]string{},
		adjusted:  map[domain.Category]domain.Amount{},
	}
}

func (f *fakeController) Status() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Status{
		CurrentPhase: "morning",
		Paused:       f.paused,
		Categories: []domain.CategoryStatus{{
			Allocation: domain.Allocation{Category: "research", DailyLimit: 100, Spent: 40},
			Pressure:   domain.PressureOK,
		}},
	}
}

func (f *fakeController) Unit(id string) (domain.WorkUnit, error) {
	u, ok := f.units[id]
	if !ok {
		return domain.WorkUnit{}, domain.Detail(domain.ErrUnitNotFound, "%s", id)
	}
	return u, nil
}

func (f *fakeController) Trigger(id string) error {
	u, err := f.Unit(id)
	if err != nil {
		return err
	}
	if u.State.IsTerminal() {
		return domain.Detail(domain.ErrInvalidTransition, "unit %s already finished", id)
	}
	f.triggered = append(f.triggered, id)
	return nil
}

func (f *fakeController) Cancel(id, reason string) error {
	if _, err := f.Unit(id); err != nil {
		return err
	}
	f.cancelled[id] = reason
	return nil
}

func (f *fakeController) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeController) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeController) AdjustBudget(cat domain.Category, delta domain.Amount) (domain.Allocation, error) {
	if cat != "research" {
		return domain.Allocation{}, domain.Detail(domain.ErrUnknownCategory, "%q", cat)
	}
	f.adjusted[cat] += delta
	return domain.Allocation{Category: cat, DailyLimit: 100 + f.adjusted[cat]}, nil
}

func (f *fakeController) ResumeCategory(cat domain.Category) error {
	f.resumed = append(f.resumed, cat)
	return nil
}

type fakePlanner struct {
	plan planner.Plan
	err  error
}

func (p *fakePlanner) PlanDay(ctx context.Context) (planner.Plan, error) {
	return p.plan, p.err
}

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *fakeController) {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctrl := newFakeController()
	return &Handler{
		Orchestrator:   ctrl,
		DB:             db,
		UnitRepo:       &store.UnitRepo{},
		JournalRepo:    &store.JournalRepo{},
		Location:       time.UTC,
		Now:            func() time.Time { return testNow },
		Log:            zerolog.Nop(),
		StreamInterval: 10 * time.Millisecond,
	}, ctrl
}

func do(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	Routes(h).ServeHTTP(w, req)
	return w
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st domain.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.CurrentPhase != "morning" || len(st.Categories) != 1 || st.Categories[0].Spent != 40 {
		t.Errorf("status = %+v", st)
	}
}

func TestGetUnit(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, http.MethodGet, "/api/v1/units/u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var u domain.WorkUnit
	json.NewDecoder(w.Body).Decode(&u)
	if u.ID != "u1" {
		t.Errorf("id = %q", u.ID)
	}

	w = do(t, h, http.MethodGet, "/api/v1/units/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if e := decodeAPIError(t, w); e.Code != domain.ErrUnitNotFound.Code {
		t.Errorf("code = %d", e.Code)
	}
}

func TestTriggerAndCancel(t *testing.T) {
	h, ctrl := newTestHandler(t)

	if w := do(t, h, http.MethodPost, "/api/v1/units/u1/trigger", ""); w.Code != http.StatusAccepted {
		t.Fatalf("trigger: expected 202, got %d", w.Code)
	}
	if len(ctrl.triggered) != 1 || ctrl.triggered[0] != "u1" {
		t.Errorf("triggered = %v", ctrl.triggered)
	}

	w := do(t, h, http.MethodPost, "/api/v1/units/u2/trigger", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("trigger finished unit: expected 422, got %d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/units/u1/cancel", `{"reason":"not today"}`); w.Code != http.StatusAccepted {
		t.Fatalf("cancel: expected 202, got %d", w.Code)
	}
	if ctrl.cancelled["u1"] != "not today" {
		t.Errorf("reason = %q", ctrl.cancelled["u1"])
	}

	if w := do(t, h, http.MethodPost, "/api/v1/units/u1/cancel", ""); w.Code != http.StatusAccepted {
		t.Fatalf("cancel without body: expected 202, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/units/u1/cancel", "{bad"); w.Code != http.StatusBadRequest {
		t.Fatalf("cancel bad body: expected 400, got %d", w.Code)
	}
}

func TestPauseResume(t *testing.T) {
	h, ctrl := newTestHandler(t)

	if w := do(t, h, http.MethodPost, "/api/v1/pause", ""); w.Code != http.StatusNoContent {
		t.Fatalf("pause: expected 204, got %d", w.Code)
	}
	if !ctrl.Status().Paused {
		t.Error("expected paused")
	}
	if w := do(t, h, http.MethodPost, "/api/v1/resume", ""); w.Code != http.StatusNoContent {
		t.Fatalf("resume: expected 204, got %d", w.Code)
	}
	if ctrl.Status().Paused {
		t.Error("expected resumed")
	}
}

func TestAdjustBudget(t *testing.T) {
	h, ctrl := newTestHandler(t)

	w := do(t, h, http.MethodPost, "/api/v1/budget/research/adjust", `{"delta":25}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a domain.Allocation
	json.NewDecoder(w.Body).Decode(&a)
	if a.DailyLimit != 125 || ctrl.adjusted["research"] != 25 {
		t.Errorf("allocation = %+v", a)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/budget/research/adjust", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing delta: expected 400, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/budget/nope/adjust", `{"delta":1}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown category: expected 404, got %d", w.Code)
	}
}

func TestResumeCategory(t *testing.T) {
	h, ctrl := newTestHandler(t)
	if w := do(t, h, http.MethodPost, "/api/v1/budget/research/resume", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(ctrl.resumed) != 1 || ctrl.resumed[0] != "research" {
		t.Errorf("resumed = %v", ctrl.resumed)
	}
}

func TestHistory(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	w := domain.WorkUnit{
		ID: "u9", Category: "journal", State: domain.StateCompleted, Actions: []string{"note"},
		CreatedAt: testNow, FinishedAt: testNow,
		Results: []domain.ActionOutcome{{ActionID: "note", Success: true, ActualCost: 3}},
	}
	if err := h.UnitRepo.Upsert(ctx, h.DB, "2026-03-14", w); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := h.JournalRepo.Append(ctx, h.DB, domain.JournalEntry{Day: "2026-03-14", UnitID: "u9", Text: "calm sea", CreatedAt: testNow.Unix()}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	resp := do(t, h, http.MethodGet, "/api/v1/history", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var hist HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hist.Day != "2026-03-14" || len(hist.Units) != 1 || len(hist.Journal) != 1 {
		t.Fatalf("history = %+v", hist)
	}
	if hist.Spent["journal"] != 3 {
		t.Errorf("spent = %v", hist.Spent)
	}

	resp = do(t, h, http.MethodGet, "/api/v1/history?day=2026-03-13", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	hist = HistoryResponse{}
	json.NewDecoder(resp.Body).Decode(&hist)
	if hist.Units == nil || len(hist.Units) != 0 {
		t.Errorf("expected empty unit list, got %+v", hist.Units)
	}

	if resp := do(t, h, http.MethodGet, "/api/v1/history?day=March", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad day: expected 400, got %d", resp.Code)
	}
}

func TestPlan(t *testing.T) {
	h, _ := newTestHandler(t)

	if w := do(t, h, http.MethodPost, "/api/v1/plan", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("no planner: expected 503, got %d", w.Code)
	}

	h.Planner = &fakePlanner{plan: planner.Plan{Date: "2026-03-14", Phase: "morning", Accepted: []domain.WorkUnitSummary{{ID: "u5"}}}}
	w := do(t, h, http.MethodPost, "/api/v1/plan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var plan planner.Plan
	json.NewDecoder(w.Body).Decode(&plan)
	if len(plan.Accepted) != 1 || plan.Accepted[0].ID != "u5" {
		t.Errorf("plan = %+v", plan)
	}

	h.Planner = &fakePlanner{err: domain.WrapEngineError(domain.ErrPlannerFailed.Code, "decide", errors.New("timeout"))}
	if w := do(t, h, http.MethodPost, "/api/v1/plan", ""); w.Code != http.StatusBadGateway {
		t.Fatalf("planner failure: expected 502, got %d", w.Code)
	}
}

func TestStreamStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(Routes(h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/status/stream", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	events := 0
	for scanner.Scan() && events < 2 {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var st domain.Status
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events++
	}
	if events != 2 {
		t.Fatalf("received %d events, want 2", events)
	}
}

func TestOptionsPreflight(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(t, h, http.MethodOptions, "/api/v1/pause", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestWriteError_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
