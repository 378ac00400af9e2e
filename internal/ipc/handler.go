// Package ipc provides the HTTP observability and control surface.
package ipc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/planner"
	"github.com/rogers-f/cadence/internal/store"
)

// Controller is the orchestrator surface the handlers drive.
type Controller interface {
	Status() domain.Status
	Unit(id string) (domain.WorkUnit, error)
	Trigger(id string) error
	Cancel(id, reason string) error
	Pause()
	Resume()
	AdjustBudget(cat domain.Category, delta domain.Amount) (domain.Allocation, error)
	ResumeCategory(cat domain.Category) error
}

// DayPlanner runs one planning pass on demand.
type DayPlanner interface {
	PlanDay(ctx context.Context) (planner.Plan, error)
}

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Orchestrator Controller
	// Planner is nil when no decision process is configured.
	Planner     DayPlanner
	DB          *sql.DB
	UnitRepo    *store.UnitRepo
	JournalRepo *store.JournalRepo
	Location    *time.Location
	Now         func() time.Time
	Log         zerolog.Logger
	// StreamInterval is the push period of the status stream.
	StreamInterval time.Duration
}

// CancelRequest is the optional body for POST /api/v1/units/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// AdjustRequest is the body for POST /api/v1/budget/{category}/adjust.
type AdjustRequest struct {
	Delta *domain.Amount `json:"delta"`
}

// HistoryResponse is the response for GET /api/v1/history.
type HistoryResponse struct {
	Day     string                            `json:"day"`
	Units   []domain.WorkUnit                 `json:"units"`
	Spent   map[domain.Category]domain.Amount `json:"spent"`
	Journal []domain.JournalEntry             `json:"journal"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /api/v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Status())
}

// GetUnit handles GET /api/v1/units/{id}.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.Orchestrator.Unit(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// TriggerUnit handles POST /api/v1/units/{id}/trigger.
func (h *Handler) TriggerUnit(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.Trigger(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelUnit handles POST /api/v1/units/{id}/cancel.
func (h *Handler) CancelUnit(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if err := h.Orchestrator.Cancel(r.PathValue("id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Pause handles POST /api/v1/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.Orchestrator.Pause()
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/v1/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.Orchestrator.Resume()
	w.WriteHeader(http.StatusNoContent)
}

// AdjustBudget handles POST /api/v1/budget/{category}/adjust.
func (h *Handler) AdjustBudget(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Delta == nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "delta is required"})
		return
	}
	a, err := h.Orchestrator.AdjustBudget(domain.Category(r.PathValue("category")), *req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ResumeCategory handles POST /api/v1/budget/{category}/resume.
func (h *Handler) ResumeCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.ResumeCategory(domain.Category(r.PathValue("category"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/v1/history?day=YYYY-MM-DD. The day defaults to today.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = store.Day(h.now(), h.location())
	} else if _, err := time.Parse(time.DateOnly, day); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "day must be YYYY-MM-DD"})
		return
	}

	units, err := h.UnitRepo.ListByDay(r.Context(), h.DB, day)
	if err != nil {
		writeError(w, err)
		return
	}
	spent, err := h.UnitRepo.SpentByCategory(r.Context(), h.DB, day)
	if err != nil {
		writeError(w, err)
		return
	}
	journal, err := h.JournalRepo.ListByDay(r.Context(), h.DB, day)
	if err != nil {
		writeError(w, err)
		return
	}
	if units == nil {
		units = []domain.WorkUnit{}
	}
	if journal == nil {
		journal = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Day: day, Units: units, Spent: spent, Journal: journal})
}

// Plan handles POST /api/v1/plan.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	if h.Planner == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIError{
			Code:    domain.ErrPlannerFailed.Code,
			Message: "no decision process configured",
		})
		return
	}
	plan, err := h.Planner.PlanDay(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// StreamStatus handles GET /api/v1/status/stream (SSE). It pushes a status
// snapshot immediately and then on every stream interval.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := h.StreamInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	writeSSEEvent(w, flusher, h.Orchestrator.Status())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeSSEEvent(w, flusher, h.Orchestrator.Status())
		}
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) location() *time.Location {
	if h.Location != nil {
		return h.Location
	}
	return time.Local
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		writeJSON(w, statusFor(engErr.Code), APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func statusFor(code int) int {
	switch code {
	case domain.ErrUnitNotFound.Code, domain.ErrUnknownCategory.Code, domain.ErrUnknownPhase.Code:
		return http.StatusNotFound
	case domain.ErrDuplicateUnit.Code:
		return http.StatusConflict
	case domain.ErrInvalidAmount.Code, domain.ErrEmptySequence.Code:
		return http.StatusBadRequest
	case domain.ErrInvalidTransition.Code, domain.ErrCategoryHalted.Code:
		return http.StatusUnprocessableEntity
	case domain.ErrBudgetDenied.Code:
		return http.StatusForbidden
	case domain.ErrPlannerFailed.Code:
		return http.StatusBadGateway
	case domain.ErrOrchestratorDown.Code:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, st domain.Status) {
	data, _ := json.Marshal(st)
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	f.Flush()
}
