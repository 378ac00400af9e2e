// Package orchestrator owns the per-category work queues, the tick loop that
// admits ready units against the budget ledger, and the execution supervisor
// that drives each admitted unit through its action sequence.
package orchestrator

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/ledger"
	"github.com/rogers-f/cadence/internal/registry"
	"github.com/rogers-f/cadence/internal/workflow"
)

// Config holds tunable parameters for the orchestrator.
type Config struct {
	TickInterval time.Duration
	// MaxConcurrency caps in-flight units per category. Categories not
	// listed use DefaultConcurrency.
	MaxConcurrency     map[domain.Category]int
	DefaultConcurrency int
	// UnitTTL fails a queued unit with BudgetTimeout once it has waited this
	// long since it was first denied budget. Zero disables expiry.
	UnitTTL time.Duration
	// RetryLimit is the number of extra attempts after an ActionFailure.
	RetryLimit  int
	RecentLimit int
}

// PhaseView exposes the tracker's current phase.
type PhaseView interface {
	Current() domain.Phase
}

// PhaseHolder is the part of the phase queue the orchestrator reaches into
// for cancel, trigger and status.
type PhaseHolder interface {
	Take(id string) (*workflow.Unit, bool)
	Lookup(id string) (*workflow.Unit, bool)
	Depths() map[domain.Phase]int
}

// Auditor receives operator actions and invariant violations.
type Auditor interface {
	Audit(rec domain.AuditRecord)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPhases wires the phase tracker and phase queue.
func WithPhases(view PhaseView, holder PhaseHolder) Option {
	return func(o *Orchestrator) {
		o.phaseView = view
		o.phaseHolder = holder
	}
}

// WithAuditor wires an audit sink.
func WithAuditor(a Auditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

type tracked struct {
	unit     *workflow.Unit
	category domain.Category
	priority int
	seq      uint64
	index    int

	triggered bool
	running   bool
	cancel    context.CancelFunc
	reason    string

	// deniedAt is when the unit was first held back by a budget denial.
	deniedAt time.Time
}

type category struct {
	queue    unitHeap
	sem      *semaphore.Weighted
	inFlight int
	denials  int
	blocked  string
	halted   string
}

// Orchestrator schedules and supervises work units.
type Orchestrator struct {
	cfg      Config
	ledger   *ledger.Ledger
	registry *registry.Registry
	governor ledger.Governor
	log      zerolog.Logger
	now      func() time.Time

	phaseView   PhaseView
	phaseHolder PhaseHolder
	auditor     Auditor

	inboxMu sync.Mutex
	inbox   []*workflow.Unit

	mu         sync.Mutex
	categories map[domain.Category]*category
	units      map[string]*tracked
	seq        uint64
	paused     bool
	recent     []domain.WorkUnit
	listeners  []func(domain.WorkUnit)

	wg sync.WaitGroup
}

// New creates an orchestrator over the ledger's category set.
func New(cfg Config, l *ledger.Ledger, r *registry.Registry, log zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = 1
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 50
	}

	o := &Orchestrator{
		cfg:        cfg,
		ledger:     l,
		registry:   r,
		governor:   ledger.NewGovernor(),
		log:        log.With().Str("component", "orchestrator").Logger(),
		now:        time.Now,
		categories: make(map[domain.Category]*category),
		units:      make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, cat := range l.Categories() {
		n := cfg.MaxConcurrency[cat]
		if n <= 0 {
			n = cfg.DefaultConcurrency
		}
		o.categories[cat] = &category{sem: semaphore.NewWeighted(int64(n))}
	}
	return o
}

// OnFinished registers a listener called once for every unit that reaches a
// terminal state. Listeners run on the goroutine that finished the unit.
func (o *Orchestrator) OnFinished(fn func(domain.WorkUnit)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Submit hands a unit to the orchestrator. A PLANNED unit is moved to
// SCHEDULED first. Submit only appends to the inbox; the next tick files the
// unit into its category queue, so it is safe to call from any goroutine.
func (o *Orchestrator) Submit(u *workflow.Unit) error {
	if !o.ledger.Has(u.Category()) {
		return domain.Detail(domain.ErrUnknownCategory, "%q", u.Category())
	}
	if u.State() == domain.StatePlanned {
		if err := u.Schedule(); err != nil {
			return err
		}
	}
	if st := u.State(); st != domain.StateScheduled {
		return domain.Detail(domain.ErrInvalidTransition, "submit unit %s in state %s", u.ID(), st)
	}

	o.inboxMu.Lock()
	o.inbox = append(o.inbox, u)
	o.inboxMu.Unlock()
	return nil
}

// Run ticks until ctx is done, then waits for in-flight executions.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.log.Info().Dur("tick", o.cfg.TickInterval).Msg("orchestrator started")
	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.log.Info().Msg("orchestrator stopped")
			return nil
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Wait blocks until every dispatched execution has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Tick runs one scheduling pass: daily reset, inbox drain, TTL expiry, then
// dispatch for every category that has queued work and available budget.
// Executions started by this tick inherit ctx.
func (o *Orchestrator) Tick(ctx context.Context) {
	now := o.now()

	for _, cat := range o.ledger.ResetDue(now) {
		o.log.Info().Str("category", string(cat)).Msg("daily budget reset")
		o.mu.Lock()
		if c, ok := o.categories[cat]; ok {
			c.denials = 0
			c.blocked = ""
		}
		o.mu.Unlock()
	}

	o.mu.Lock()
	o.drainInboxLocked()
	finished := o.expireLocked(now)
	var dispatched []dispatch
	if !o.paused {
		var failed []*tracked
		dispatched, failed = o.admitLocked(ctx, now)
		finished = append(finished, failed...)
	}
	o.mu.Unlock()

	for _, t := range finished {
		o.finish(t)
	}
	for _, d := range dispatched {
		go o.execute(d.ctx, d.t, d.table, d.res)
	}
}

type dispatch struct {
	ctx   context.Context
	t     *tracked
	table *registry.Table
	res   ledger.Reservation
}

func (o *Orchestrator) drainInboxLocked() {
	o.inboxMu.Lock()
	pending := o.inbox
	o.inbox = nil
	o.inboxMu.Unlock()

	for _, u := range pending {
		o.enqueueLocked(u, false)
	}
}

func (o *Orchestrator) enqueueLocked(u *workflow.Unit, triggered bool) {
	id := u.ID()
	if _, exists := o.units[id]; exists {
		o.log.Error().Str("unit", id).Err(domain.ErrDuplicateUnit).Msg("drop duplicate submission")
		return
	}
	c := o.categories[u.Category()]
	o.seq++
	t := &tracked{
		unit:      u,
		category:  u.Category(),
		priority:  u.Priority(),
		seq:       o.seq,
		triggered: triggered,
	}
	heap.Push(&c.queue, t)
	o.units[id] = t
}

func (o *Orchestrator) expireLocked(now time.Time) []*tracked {
	if o.cfg.UnitTTL <= 0 {
		return nil
	}
	var expired []*tracked
	for _, c := range o.categories {
		for _, t := range append(unitHeap(nil), c.queue...) {
			if t.deniedAt.IsZero() || now.Sub(t.deniedAt) <= o.cfg.UnitTTL {
				continue
			}
			c.queue.remove(t)
			if err := t.unit.Fail(now, domain.ReasonBudgetTimeout); err != nil {
				o.log.Error().Str("unit", t.unit.ID()).Err(err).Msg("expire unit")
			}
			expired = append(expired, t)
		}
	}
	return expired
}

// admitLocked pops dispatchable units per category. A category stops for this
// tick when its concurrency cap is reached or its head is denied budget.
// Units failed for UnknownAction are returned separately, before any
// reservation was attempted for them.
func (o *Orchestrator) admitLocked(ctx context.Context, now time.Time) (out []dispatch, failed []*tracked) {
	table := o.registry.Snapshot()

	for _, cat := range o.sortedCategories() {
		c := o.categories[cat]
		if c.halted != "" {
			continue
		}
		for {
			t := c.queue.peek()
			if t == nil {
				break
			}
			w := t.unit.Snapshot()

			if missing := table.Missing(w.Actions); len(missing) > 0 {
				heap.Pop(&c.queue)
				reason := domain.ReasonUnknownAction + ": " + missing[0]
				if err := t.unit.Fail(now, reason); err != nil {
					o.log.Error().Str("unit", w.ID).Err(err).Msg("fail unit with unknown action")
				}
				o.log.Warn().Str("unit", w.ID).Strs("missing", missing).Msg("unit references unregistered action")
				failed = append(failed, t)
				continue
			}

			if !c.sem.TryAcquire(1) {
				break
			}

			first, _ := table.Get(w.Actions[0])
			res, ok, remaining, err := o.ledger.TryReserve(cat, first.Definition.EstimatedCost)
			if err != nil {
				c.sem.Release(1)
				o.log.Error().Str("category", string(cat)).Err(err).Msg("reserve budget")
				break
			}
			if !ok {
				c.sem.Release(1)
				c.denials++
				c.blocked = domain.ReasonBudgetDenied
				// Everything queued behind a denied head waits on budget too.
				for _, q := range c.queue {
					if q.deniedAt.IsZero() {
						q.deniedAt = now
					}
				}
				o.log.Debug().
					Str("category", string(cat)).
					Str("unit", w.ID).
					Int64("needed", int64(first.Definition.EstimatedCost)).
					Int64("available", int64(remaining)).
					Msg("budget denied, unit stays queued")
				break
			}
			c.blocked = ""

			heap.Pop(&c.queue)
			if err := t.unit.Start(now); err != nil {
				o.log.Error().Str("unit", w.ID).Err(err).Msg("start unit")
				_ = o.ledger.Release(res)
				c.sem.Release(1)
				delete(o.units, w.ID)
				continue
			}
			uctx, cancel := context.WithCancel(ctx)
			t.running = true
			t.cancel = cancel
			c.inFlight++
			o.wg.Add(1)

			o.log.Info().
				Str("unit", w.ID).
				Str("category", string(cat)).
				Int("actions", len(w.Actions)).
				Int("priority", w.Priority).
				Msg("dispatch unit")
			out = append(out, dispatch{ctx: uctx, t: t, table: table, res: res})
		}
	}

	return out, failed
}

func (o *Orchestrator) sortedCategories() []domain.Category {
	cats := make([]domain.Category, 0, len(o.categories))
	for cat := range o.categories {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}
