// Package domain defines the core types for the cadence work orchestrator.
package domain

import (
	"encoding/json"
	"time"
)

// Category is the budget- and queue-partitioning label attached to work.
type Category string

// DefaultCategories is the category set used when configuration names none.
var DefaultCategories = []Category{
	"reflection",
	"research",
	"growth",
	"curiosity",
	"system",
	"journal",
	"memory",
	"creative",
}

// Amount is a currency value in minor units.
type Amount int64

// Phase is the name of a recurring day phase.
type Phase string

// PhaseImmediate targets the orchestrator queue directly, bypassing phase batching.
const PhaseImmediate Phase = "immediate"

// WorkState represents the lifecycle state of a work unit.
type WorkState string

const (
	StatePlanned   WorkState = "planned"
	StateScheduled WorkState = "scheduled"
	StateRunning   WorkState = "running"
	StateCompleted WorkState = "completed"
	StateFailed    WorkState = "failed"
	StateCancelled WorkState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s WorkState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Failure reasons recorded on units that end in StateFailed or StateCancelled.
const (
	ReasonUnknownAction = "UnknownAction"
	ReasonBudgetTimeout = "BudgetTimeout"
	ReasonBudgetDenied  = "BudgetDenied"
	ReasonHandlerFault  = "HandlerFault"
	ReasonLedger        = "LedgerInvariant"
)

// Allocation is one category's budget state.
type Allocation struct {
	Category   Category  `json:"category"`
	DailyLimit Amount    `json:"daily_limit"`
	Spent      Amount    `json:"spent"`
	Reserved   Amount    `json:"reserved"`
	ResetAt    time.Time `json:"reset_at"`
}

// Available returns the amount that can still be reserved.
func (a Allocation) Available() Amount {
	return a.DailyLimit - a.Spent - a.Reserved
}

// LedgerSnapshot is a point-in-time copy of every allocation.
type LedgerSnapshot struct {
	TakenAt     time.Time    `json:"taken_at"`
	Allocations []Allocation `json:"allocations"`
}

// ActionDefinition is the static metadata of a registered action.
type ActionDefinition struct {
	ID              string        `json:"id"`
	Kind            string        `json:"kind"`
	Category        Category      `json:"category"`
	EstimatedCost   Amount        `json:"estimated_cost"`
	DefaultDuration time.Duration `json:"default_duration"`
}

// ActionResult is what a handler reports for a single action.
type ActionResult struct {
	Success    bool            `json:"success"`
	ActualCost Amount          `json:"actual_cost"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	// Fault is set when the handler panicked rather than returning a result.
	Fault bool `json:"fault,omitempty"`
}

// ActionOutcome is one entry of a work unit's result list.
type ActionOutcome struct {
	ActionID   string          `json:"action_id"`
	Success    bool            `json:"success"`
	ActualCost Amount          `json:"actual_cost"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// WorkUnitDescriptor is what the decision process hands the planner.
type WorkUnitDescriptor struct {
	Actions     []string `json:"actions" yaml:"actions"`
	Category    Category `json:"category" yaml:"category"`
	TargetPhase Phase    `json:"target_phase" yaml:"target_phase"`
	Priority    int      `json:"priority" yaml:"priority"`
	FocusText   string   `json:"focus_text" yaml:"focus_text"`
}

// WorkUnit is one schedulable attempt to run an ordered sequence of actions.
type WorkUnit struct {
	ID            string          `json:"id"`
	Category      Category        `json:"category"`
	Actions       []string        `json:"actions"`
	Priority      int             `json:"priority"`
	TargetPhase   Phase           `json:"target_phase"`
	EstimatedCost Amount          `json:"estimated_cost"`
	FocusText     string          `json:"focus_text,omitempty"`
	State         WorkState       `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     time.Time       `json:"started_at,omitempty"`
	FinishedAt    time.Time       `json:"finished_at,omitempty"`
	Results       []ActionOutcome `json:"results,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Attempt       int             `json:"attempt"`
	ParentID      string          `json:"parent_id,omitempty"`
}

// ActualCost sums the committed cost of every recorded outcome.
func (u WorkUnit) ActualCost() Amount {
	var total Amount
	for _, r := range u.Results {
		total += r.ActualCost
	}
	return total
}

// Summary returns the compact form shown on the observability surface.
func (u WorkUnit) Summary() WorkUnitSummary {
	return WorkUnitSummary{
		ID:            u.ID,
		Category:      u.Category,
		Actions:       u.Actions,
		State:         u.State,
		Priority:      u.Priority,
		TargetPhase:   u.TargetPhase,
		EstimatedCost: u.EstimatedCost,
		ActualCost:    u.ActualCost(),
		FailureReason: u.FailureReason,
		FinishedAt:    u.FinishedAt,
	}
}

// WorkUnitSummary is a read-only digest of a work unit.
type WorkUnitSummary struct {
	ID            string    `json:"id"`
	Category      Category  `json:"category"`
	Actions       []string  `json:"actions"`
	State         WorkState `json:"state"`
	Priority      int       `json:"priority"`
	TargetPhase   Phase     `json:"target_phase"`
	EstimatedCost Amount    `json:"estimated_cost"`
	ActualCost    Amount    `json:"actual_cost"`
	FailureReason string    `json:"failure_reason,omitempty"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// QueueEntry is one unit waiting in a phase queue.
type QueueEntry struct {
	UnitID   string `json:"unit_id"`
	Phase    Phase  `json:"phase"`
	Priority int    `json:"priority"`
	Seq      uint64 `json:"seq"`
}

// Pressure classifies how much of a category's daily limit is committed.
type Pressure string

const (
	PressureOK        Pressure = "ok"
	PressureWarn      Pressure = "warn"
	PressureExhausted Pressure = "exhausted"
)

// CategoryStatus is the per-category slice of the observability snapshot.
type CategoryStatus struct {
	Allocation
	Pressure     Pressure `json:"pressure"`
	Queued       int      `json:"queued"`
	InFlight     int      `json:"in_flight"`
	Denials      int      `json:"denials"`
	Halted       bool     `json:"halted"`
	HaltedReason string   `json:"halted_reason,omitempty"`
	// Blocked is set while the head of the queue is waiting on budget.
	Blocked string `json:"blocked,omitempty"`
}

// Status is the read-only snapshot consumed by dashboards.
type Status struct {
	CurrentPhase Phase             `json:"current_phase"`
	Paused       bool              `json:"paused"`
	Categories   []CategoryStatus  `json:"categories"`
	PhaseQueues  map[Phase]int     `json:"phase_queues"`
	Recent       []WorkUnitSummary `json:"recent"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// AuditRecord logs operator actions and invariant violations.
type AuditRecord struct {
	ID         string
	UnitID     string
	Category   string
	Actor      string
	Action     string
	DetailJSON string
	Severity   string
	CreatedAt  int64
}

// JournalEntry is a note written by the journal action family.
type JournalEntry struct {
	ID        int64    `json:"id"`
	Day       string   `json:"day"`
	UnitID    string   `json:"unit_id"`
	Category  Category `json:"category"`
	Text      string   `json:"text"`
	CreatedAt int64    `json:"created_at"`
}
