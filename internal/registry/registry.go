// Package registry maps action ids to executable handlers and their static
// metadata. The table is immutable once published; Reload swaps it whole.
package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rogers-f/cadence/internal/domain"
)

// Request is the context handed to a handler for one action.
// Cancellation is carried by the context.Context passed alongside it.
type Request struct {
	UnitID       string
	ActionID     string
	Category     domain.Category
	DurationHint time.Duration
	FocusText    string
	Reserved     domain.Amount
}

// Handler performs one action. It must honor ctx cancellation promptly and
// report failures through ActionResult rather than panicking.
type Handler interface {
	Execute(ctx context.Context, req Request) domain.ActionResult
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) domain.ActionResult

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, req Request) domain.ActionResult {
	return f(ctx, req)
}

// Entry pairs an action definition with its handler.
type Entry struct {
	Definition domain.ActionDefinition
	Handler    Handler
}

// Table is an immutable snapshot of registered actions.
type Table struct {
	entries map[string]Entry
}

func validate(e Entry) error {
	switch {
	case e.Definition.ID == "":
		return domain.Detail(domain.ErrInvalidAction, "id is required")
	case e.Handler == nil:
		return domain.Detail(domain.ErrInvalidAction, "%s: handler is nil", e.Definition.ID)
	case e.Definition.EstimatedCost < 0:
		return domain.Detail(domain.ErrInvalidAction, "%s: negative estimated cost", e.Definition.ID)
	case e.Definition.DefaultDuration < 0:
		return domain.Detail(domain.ErrInvalidAction, "%s: negative default duration", e.Definition.ID)
	}
	return nil
}

// NewTable builds a table, rejecting invalid entries and duplicate ids.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := validate(e); err != nil {
			return nil, err
		}
		if _, exists := t.entries[e.Definition.ID]; exists {
			return nil, domain.Detail(domain.ErrDuplicateAction, "%s", e.Definition.ID)
		}
		t.entries[e.Definition.ID] = e
	}
	return t, nil
}

// Get returns the entry for id, or ErrUnknownAction.
func (t *Table) Get(id string) (Entry, error) {
	e, ok := t.entries[id]
	if !ok {
		return Entry{}, domain.Detail(domain.ErrUnknownAction, "%q", id)
	}
	return e, nil
}

// Missing returns the ids in the sequence that have no registered handler.
func (t *Table) Missing(ids []string) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := t.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// EstimateCost sums the estimated cost of every known action in ids.
func (t *Table) EstimateCost(ids []string) domain.Amount {
	var total domain.Amount
	for _, id := range ids {
		if e, ok := t.entries[id]; ok {
			total += e.Definition.EstimatedCost
		}
	}
	return total
}

// IDs returns every registered action id, sorted.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Definitions returns every definition sorted by id.
func (t *Table) Definitions() []domain.ActionDefinition {
	defs := make([]domain.ActionDefinition, 0, len(t.entries))
	for _, e := range t.entries {
		defs = append(defs, e.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Execute runs the handler for id. A handler panic is recovered and reported
// as a HandlerFault; a structured failure is reported as an ActionFailure.
// The returned result is always populated, even when err is non-nil.
func (t *Table) Execute(ctx context.Context, id string, req Request) (result domain.ActionResult, err error) {
	e, err := t.Get(id)
	if err != nil {
		return domain.ActionResult{Success: false, Error: err.Error()}, err
	}

	req.ActionID = id
	if req.Category == "" {
		req.Category = e.Definition.Category
	}
	if req.DurationHint == 0 {
		req.DurationHint = e.Definition.DefaultDuration
	}

	defer func() {
		if r := recover(); r != nil {
			fault := domain.Detail(domain.ErrHandlerFault, "%s: %v", id, r)
			result = domain.ActionResult{
				Success: false,
				Fault:   true,
				Error:   fmt.Sprintf("%s\n%s", fault.Message, debug.Stack()),
			}
			err = fault
		}
	}()

	result = e.Handler.Execute(ctx, req)
	if result.ActualCost < 0 {
		result.ActualCost = 0
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "no error detail"
		}
		return result, domain.Detail(domain.ErrActionFailure, "%s: %s", id, msg)
	}
	return result, nil
}

// Registry is the thread-safe owner of the current action table.
type Registry struct {
	table atomic.Pointer[Table]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.table.Store(&Table{entries: map[string]Entry{}})
	return r
}

// Register adds one action. Returns ErrDuplicateAction if the id is taken.
// Registration copies the current table, so concurrent readers keep their snapshot.
func (r *Registry) Register(def domain.ActionDefinition, h Handler) error {
	e := Entry{Definition: def, Handler: h}
	if err := validate(e); err != nil {
		return err
	}
	for {
		cur := r.table.Load()
		if _, exists := cur.entries[def.ID]; exists {
			return domain.Detail(domain.ErrDuplicateAction, "%s", def.ID)
		}
		next := &Table{entries: make(map[string]Entry, len(cur.entries)+1)}
		for id, existing := range cur.entries {
			next.entries[id] = existing
		}
		next.entries[def.ID] = e
		if r.table.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Reload atomically replaces the whole table. In-flight executions keep
// running against the snapshot they started with.
func (r *Registry) Reload(entries []Entry) error {
	t, err := NewTable(entries)
	if err != nil {
		return err
	}
	r.table.Store(t)
	return nil
}

// Snapshot returns the current table.
func (r *Registry) Snapshot() *Table {
	return r.table.Load()
}

// Get returns the entry for id from the current table.
func (r *Registry) Get(id string) (Entry, error) {
	return r.Snapshot().Get(id)
}

// Execute runs id against the current table.
func (r *Registry) Execute(ctx context.Context, id string, req Request) (domain.ActionResult, error) {
	return r.Snapshot().Execute(ctx, id, req)
}

// IDs returns the current action ids sorted.
func (r *Registry) IDs() []string {
	return r.Snapshot().IDs()
}

// Definitions returns the current definitions sorted by id.
func (r *Registry) Definitions() []domain.ActionDefinition {
	return r.Snapshot().Definitions()
}
