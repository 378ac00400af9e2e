// Package planner turns the external decision process's output into a day's
// work units and routes each one to the orchestrator or its phase queue.
package planner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/phase"
	"github.com/rogers-f/cadence/internal/registry"
	"github.com/rogers-f/cadence/internal/workflow"
)

// PlanContext is everything the decision process sees when planning a day.
type PlanContext struct {
	Date         string                    `json:"date"`
	CurrentPhase domain.Phase              `json:"current_phase"`
	Phases       []domain.Phase            `json:"phases"`
	Budget       []domain.Allocation       `json:"budget"`
	Recent       []domain.WorkUnitSummary  `json:"recent"`
	Actions      []domain.ActionDefinition `json:"actions"`
}

// Decider is the external decision process. It ranks candidate work and
// returns descriptors; it never touches orchestrator state.
type Decider interface {
	Decide(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error) {
	return f(ctx, pc)
}

// Submitter accepts units for immediate scheduling.
type Submitter interface {
	Submit(u *workflow.Unit) error
}

// PhaseQueuer holds units until their phase begins.
type PhaseQueuer interface {
	QueueForPhase(u *workflow.Unit, p domain.Phase, priority int) error
}

// Budget is the read-only ledger view the planner needs.
type Budget interface {
	Has(cat domain.Category) bool
	Allocations() []domain.Allocation
}

// History supplies recently finished units for variety.
type History interface {
	Recent() []domain.WorkUnitSummary
}

// Rejection explains why a descriptor did not become a unit.
type Rejection struct {
	Index      int                       `json:"index"`
	Descriptor domain.WorkUnitDescriptor `json:"descriptor"`
	Reason     string                    `json:"reason"`
}

// Plan is the outcome of one planning pass.
type Plan struct {
	Date     string                   `json:"date"`
	Phase    domain.Phase             `json:"phase"`
	Accepted []domain.WorkUnitSummary `json:"accepted"`
	Rejected []Rejection              `json:"rejected,omitempty"`
}

// Deps wires the planner to the rest of the process.
type Deps struct {
	Decider  Decider
	Registry *registry.Registry
	Budget   Budget
	History  History
	Schedule *phase.Schedule
	Phase    interface{ Current() domain.Phase }
	Queue    PhaseQueuer
	Sink     Submitter
}

// Planner builds work units from decider output.
type Planner struct {
	deps      Deps
	planPhase domain.Phase
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex // serializes PlanDay
	trigger chan struct{}
	pending atomic.Bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a planner that plans automatically when planPhase begins.
// An empty planPhase disables automatic planning.
func New(deps Deps, planPhase domain.Phase, log zerolog.Logger, opts ...Option) *Planner {
	p := &Planner{
		deps:      deps,
		planPhase: planPhase,
		log:       log.With().Str("component", "planner").Logger(),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnPhase is a phase tracker callback. It only signals the planning loop so
// the tracker is never blocked on the decision process.
func (p *Planner) OnPhase(ph domain.Phase) {
	if p.planPhase == "" || ph != p.planPhase {
		return
	}
	p.Request()
}

// Request asks the planning loop for a planning pass. Requests made while a
// pass is pending are coalesced.
func (p *Planner) Request() {
	if !p.pending.CompareAndSwap(false, true) {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run executes requested planning passes until ctx is done.
func (p *Planner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.trigger:
			p.pending.Store(false)
			if _, err := p.PlanDay(ctx); err != nil {
				p.log.Error().Err(err).Msg("planning pass failed")
			}
		}
	}
}

// PlanDay asks the decider for the day's work and converts every descriptor
// into exactly one PLANNED unit. Units targeting "immediate" or the phase
// already in progress go straight to the orchestrator; the rest wait in the
// phase queue. Invalid descriptors are rejected individually.
func (p *Planner) PlanDay(ctx context.Context) (Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	current := p.deps.Phase.Current()
	if current == "" {
		current = p.deps.Schedule.At(now)
	}
	pc := PlanContext{
		Date:         now.In(p.deps.Schedule.Location()).Format(time.DateOnly),
		CurrentPhase: current,
		Phases:       p.deps.Schedule.Names(),
		Budget:       p.deps.Budget.Allocations(),
		Actions:      p.deps.Registry.Definitions(),
	}
	if p.deps.History != nil {
		pc.Recent = p.deps.History.Recent()
	}

	descs, err := p.deps.Decider.Decide(ctx, pc)
	if err != nil {
		return Plan{}, domain.WrapEngineError(domain.ErrPlannerFailed.Code, domain.ErrPlannerFailed.Message, err)
	}

	// The decider may be slow enough for a boundary to pass; route against
	// the phase in effect now.
	now = p.now()
	if ph := p.deps.Phase.Current(); ph != "" {
		current = ph
	} else {
		current = p.deps.Schedule.At(now)
	}

	plan := Plan{Date: pc.Date, Phase: current}
	table := p.deps.Registry.Snapshot()
	for i, desc := range descs {
		u, err := p.accept(desc, table, current, now)
		if err != nil {
			plan.Rejected = append(plan.Rejected, Rejection{Index: i, Descriptor: desc, Reason: err.Error()})
			p.log.Warn().Int("index", i).Str("category", string(desc.Category)).Err(err).Msg("descriptor rejected")
			continue
		}
		plan.Accepted = append(plan.Accepted, u.Snapshot().Summary())
	}

	p.log.Info().
		Str("date", plan.Date).
		Str("phase", string(current)).
		Int("accepted", len(plan.Accepted)).
		Int("rejected", len(plan.Rejected)).
		Msg("day planned")
	return plan, nil
}

func (p *Planner) accept(desc domain.WorkUnitDescriptor, table *registry.Table, current domain.Phase, now time.Time) (*workflow.Unit, error) {
	if !p.deps.Budget.Has(desc.Category) {
		return nil, domain.Detail(domain.ErrUnknownCategory, "%q", desc.Category)
	}
	target := desc.TargetPhase
	if target == "" {
		target = domain.PhaseImmediate
	}
	if target != domain.PhaseImmediate && !p.deps.Schedule.Contains(target) {
		return nil, domain.Detail(domain.ErrUnknownPhase, "%q", target)
	}
	desc.TargetPhase = target

	u, err := workflow.NewUnit(desc, table.EstimateCost(desc.Actions), now)
	if err != nil {
		return nil, err
	}
	if target == domain.PhaseImmediate || target == current {
		if err := p.deps.Sink.Submit(u); err != nil {
			return nil, err
		}
		return u, nil
	}
	if err := p.deps.Queue.QueueForPhase(u, target, desc.Priority); err != nil {
		return nil, err
	}
	return u, nil
}
