package domain

import "fmt"

// EngineError is the unified error type for the orchestrator.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches any EngineError carrying the same code, so detailed copies made
// with NewEngineError still satisfy errors.Is against the sentinels below.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// Detail returns a copy of sentinel with extra context appended to its message.
func Detail(sentinel *EngineError, format string, args ...any) *EngineError {
	return &EngineError{
		Code:    sentinel.Code,
		Message: sentinel.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// ---- Work unit / dispatch errors (-32010 to -32039) ----

var (
	ErrInvalidTransition = &EngineError{Code: -32010, Message: "invalid work unit transition"}
	ErrUnitNotFound      = &EngineError{Code: -32011, Message: "work unit not found"}
	ErrDuplicateUnit     = &EngineError{Code: -32012, Message: "work unit already exists"}
	ErrEmptySequence     = &EngineError{Code: -32013, Message: "work unit has no actions"}
	ErrUnknownCategory   = &EngineError{Code: -32014, Message: "unknown category"}
	ErrUnknownPhase      = &EngineError{Code: -32015, Message: "unknown day phase"}
	ErrBudgetTimeout     = &EngineError{Code: -32016, Message: "work unit waited past its budget TTL"}
	ErrCancelled         = &EngineError{Code: -32017, Message: "work unit cancelled"}
	ErrOrchestratorDown  = &EngineError{Code: -32018, Message: "orchestrator is not running"}
)

// ---- Action registry errors (-32040 to -32069) ----

var (
	ErrUnknownAction   = &EngineError{Code: -32040, Message: "UnknownAction: no handler registered"}
	ErrDuplicateAction = &EngineError{Code: -32041, Message: "action already registered"}
	ErrInvalidAction   = &EngineError{Code: -32042, Message: "invalid action definition"}
	ErrHandlerFault    = &EngineError{Code: -32043, Message: "HandlerFault: action handler panicked"}
	ErrActionFailure   = &EngineError{Code: -32044, Message: "ActionFailure: action reported failure"}
)

// ---- Budget ledger errors (-32100 to -32129) ----

var (
	ErrBudgetDenied    = &EngineError{Code: -32100, Message: "BudgetDenied: reservation refused"}
	ErrLedgerInvariant = &EngineError{Code: -32101, Message: "budget ledger invariant violated"}
	ErrInvalidAmount   = &EngineError{Code: -32102, Message: "invalid budget amount"}
	ErrCategoryHalted  = &EngineError{Code: -32103, Message: "category processing halted"}
	// ErrReservationStale marks a commit against a budget day that has
	// already been reset. Nothing is charged.
	ErrReservationStale = &EngineError{Code: -32104, Message: "reservation belongs to a closed budget day"}
)

// ---- Phase errors (-32160 to -32189) ----

var (
	ErrPhaseTrackerStall = &EngineError{Code: -32160, Message: "PhaseTrackerStall: sampling interval missed"}
	ErrInvalidSchedule   = &EngineError{Code: -32161, Message: "invalid phase schedule"}
)

// ---- Store / Recovery / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrSnapshotCorrupt = &EngineError{Code: -32134, Message: "snapshot checksum mismatch"}
	ErrRecoveryFailed  = &EngineError{Code: -32135, Message: "recovery from snapshot failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrPlannerFailed   = &EngineError{Code: -32137, Message: "planner decision failed"}
)
