package commands

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rogers-f/cadence/internal/actions"
	"github.com/rogers-f/cadence/internal/config"
	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/ipc"
	"github.com/rogers-f/cadence/internal/ledger"
	"github.com/rogers-f/cadence/internal/orchestrator"
	"github.com/rogers-f/cadence/internal/phase"
	"github.com/rogers-f/cadence/internal/planner"
	"github.com/rogers-f/cadence/internal/registry"
	"github.com/rogers-f/cadence/internal/store"
	"github.com/rogers-f/cadence/internal/workflow"
)

// recentFromStore bounds how many persisted units back the planner's variety
// context after a restart.
const recentFromStore = 50

// daemon is a fully wired orchestrator process.
type daemon struct {
	cfg *config.Config
	log zerolog.Logger
	loc *time.Location
	// resetAt is the daily reset as an offset from local midnight.
	resetAt time.Duration

	db          *sql.DB
	ledger      *ledger.Ledger
	registry    *registry.Registry
	actionDeps  actions.Deps
	tracker     *phase.Tracker
	queue       *phase.Queue
	orc         *orchestrator.Orchestrator
	planner     *planner.Planner
	snapshotter *store.Snapshotter
	server      *ipc.Server
}

// newDaemon opens the store, restores today's ledger and wires every
// component. The caller must call close.
func newDaemon(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*daemon, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	resetAt, err := cfg.ResetOffset()
	if err != nil {
		return nil, fmt.Errorf("parse reset_time: %w", err)
	}

	d := &daemon{cfg: cfg, log: log, loc: loc, resetAt: resetAt}

	d.db, err = store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	d.ledger, err = ledger.New(cfg.Limits(), time.Now(), ledger.WithResetTime(resetAt), ledger.WithLocation(loc))
	if err != nil {
		d.db.Close()
		return nil, err
	}
	d.restoreLedger(ctx)

	d.registry = registry.New()
	d.actionDeps = actions.Deps{
		Journal:  store.NewJournalWriter(d.db),
		Client:   &http.Client{},
		Location: loc,
		Log:      log.With().Str("component", "actions").Logger(),
	}
	entries, err := actions.Build(cfg.Actions, d.actionDeps)
	if err == nil {
		err = d.registry.Reload(entries)
	}
	if err != nil {
		d.db.Close()
		return nil, fmt.Errorf("register actions: %w", err)
	}

	schedule, err := phase.NewSchedule(cfg.Phases, loc)
	if err != nil {
		d.db.Close()
		return nil, err
	}
	d.tracker = phase.NewTracker(schedule, cfg.PhaseInterval, log, phase.WithStallThreshold(cfg.StallThreshold))
	d.snapshotter = store.NewSnapshotter(d.db, d.ledger, cfg.SnapshotInterval, log,
		store.WithLocation(loc),
		store.WithResetOffset(resetAt),
	)

	// The queue and orchestrator reference each other; the sink closure
	// resolves d.orc at call time.
	d.queue = phase.NewQueue(schedule, phase.SinkFunc(func(u *workflow.Unit) error {
		return d.orc.Submit(u)
	}), log)
	d.orc = orchestrator.New(orchestrator.Config{
		TickInterval:   cfg.TickInterval,
		MaxConcurrency: cfg.Concurrency(),
		UnitTTL:        cfg.UnitTTL,
		RetryLimit:     cfg.RetryLimit,
	}, d.ledger, d.registry, log,
		orchestrator.WithPhases(d.tracker, d.queue),
		orchestrator.WithAuditor(d.snapshotter),
	)
	d.orc.OnFinished(d.snapshotter.UnitFinished)
	d.tracker.OnTransition(func(p domain.Phase) { d.queue.OnPhaseChanged(p) })

	if decider := newDecider(cfg.Planner); decider != nil {
		d.planner = planner.New(planner.Deps{
			Decider:  decider,
			Registry: d.registry,
			Budget:   d.ledger,
			History:  &history{orc: d.orc, db: d.db},
			Schedule: schedule,
			Phase:    d.tracker,
			Queue:    d.queue,
			Sink:     d.orc,
		}, cfg.PlanPhase, log)
		d.tracker.OnTransition(d.planner.OnPhase)
	}

	handler := &ipc.Handler{
		Orchestrator: d.orc,
		DB:           d.db,
		UnitRepo:     &store.UnitRepo{},
		JournalRepo:  &store.JournalRepo{},
		Location:     loc,
		Log:          log.With().Str("component", "ipc").Logger(),
	}
	if d.planner != nil {
		handler.Planner = d.planner
	}
	d.server = ipc.NewServer(handler, cfg.ListenAddr)
	return d, nil
}

func newDecider(pc config.PlannerConfig) planner.Decider {
	switch pc.Kind {
	case "file":
		return planner.FileDecider{Path: pc.Path}
	case "http":
		return planner.HTTPDecider{URL: pc.URL, Client: &http.Client{}, Timeout: pc.Timeout}
	}
	return nil
}

// restoreLedger loads the latest snapshot of the budget day in progress.
// Reservations held by the previous process are dropped since none of its
// executions survive. A missing or unreadable snapshot starts the day fresh.
func (d *daemon) restoreLedger(ctx context.Context) {
	day := store.BudgetDay(time.Now(), d.loc, d.resetAt)
	snap, err := (&store.LedgerRepo{}).Latest(ctx, d.db, day)
	if err != nil {
		d.log.Warn().Err(err).Str("day", day).Msg("ledger snapshot unusable, starting fresh")
		return
	}
	if snap == nil {
		d.log.Info().Str("day", day).Msg("no ledger snapshot for today")
		return
	}
	if err := d.ledger.Restore(*snap); err != nil {
		d.log.Warn().Err(err).Str("day", day).Msg("ledger restore rejected, starting fresh")
		return
	}
	d.ledger.DropReservations()
	d.log.Info().Str("day", day).Time("taken_at", snap.TakenAt).Msg("ledger restored")
}

// reloadActions re-reads the config file and swaps the registry table.
// Executions already running keep the table they started with.
func (d *daemon) reloadActions(load func() (*config.Config, error)) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	entries, err := actions.Build(cfg.Actions, d.actionDeps)
	if err != nil {
		return err
	}
	if err := d.registry.Reload(entries); err != nil {
		return err
	}
	d.log.Info().Strs("actions", d.registry.IDs()).Msg("action registry reloaded")
	return nil
}

// run drives every loop until ctx is done. The snapshotter outlives the
// other loops so units finished while draining are persisted.
func (d *daemon) run(ctx context.Context, reload <-chan struct{}, load func() (*config.Config, error)) error {
	snapCtx, stopSnap := context.WithCancel(context.WithoutCancel(ctx))
	snapDone := make(chan error, 1)
	go func() { snapDone <- d.snapshotter.Run(snapCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.tracker.Run(gctx) })
	g.Go(func() error { return d.orc.Run(gctx) })
	g.Go(func() error { return d.server.Run(gctx) })
	if d.planner != nil {
		g.Go(func() error { return d.planner.Run(gctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-reload:
				if err := d.reloadActions(load); err != nil {
					d.log.Error().Err(err).Msg("reload rejected, keeping current actions")
				}
			}
		}
	})

	err := g.Wait()
	stopSnap()
	if snapErr := <-snapDone; err == nil {
		err = snapErr
	}
	return err
}

func (d *daemon) close() error {
	return d.db.Close()
}

// history backs the planner's variety context: in-memory recents first,
// topped up from the store after a restart.
type history struct {
	orc *orchestrator.Orchestrator
	db  *sql.DB
}

func (h *history) Recent() []domain.WorkUnitSummary {
	out := h.orc.Recent()
	if len(out) >= recentFromStore {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, s := range out {
		seen[s.ID] = true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, err := (&store.UnitRepo{}).Recent(ctx, h.db, recentFromStore)
	if err != nil {
		return out
	}
	for _, w := range stored {
		if len(out) >= recentFromStore {
			break
		}
		if !seen[w.ID] {
			out = append(out, w.Summary())
		}
	}
	return out
}
