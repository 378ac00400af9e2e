package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/ledger"
	"github.com/rogers-f/cadence/internal/phase"
	"github.com/rogers-f/cadence/internal/registry"
	"github.com/rogers-f/cadence/internal/workflow"
)

var noon = time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

type fixedPhase domain.Phase

func (f fixedPhase) Current() domain.Phase { return domain.Phase(f) }

type sink struct {
	mu    sync.Mutex
	units []*workflow.Unit
}

func (s *sink) Submit(u *workflow.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.State() == domain.StatePlanned {
		if err := u.Schedule(); err != nil {
			return err
		}
	}
	s.units = append(s.units, u)
	return nil
}

type fixture struct {
	planner *Planner
	queue   *phase.Queue
	sink    *sink
	seen    *PlanContext
}

func newFixture(t *testing.T, current domain.Phase, descs []domain.WorkUnitDescriptor) *fixture {
	t.Helper()
	sched, err := phase.NewSchedule(phase.DefaultBoundaries, time.UTC)
	require.NoError(t, err)
	l, err := ledger.New(map[domain.Category]domain.Amount{"research": 100, "journal": 20}, noon, ledger.WithLocation(time.UTC))
	require.NoError(t, err)
	reg := registry.New()
	ok := registry.HandlerFunc(func(ctx context.Context, req registry.Request) domain.ActionResult {
		return domain.ActionResult{Success: true}
	})
	require.NoError(t, reg.Register(domain.ActionDefinition{ID: "search", Category: "research", EstimatedCost: 4}, ok))
	require.NoError(t, reg.Register(domain.ActionDefinition{ID: "summarize", Category: "research", EstimatedCost: 6}, ok))

	f := &fixture{sink: &sink{}}
	f.queue = phase.NewQueue(sched, f.sink, zerolog.Nop())
	decider := DeciderFunc(func(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error) {
		f.seen = &pc
		return descs, nil
	})
	f.planner = New(Deps{
		Decider:  decider,
		Registry: reg,
		Budget:   l,
		Schedule: sched,
		Phase:    fixedPhase(current),
		Queue:    f.queue,
		Sink:     f.sink,
	}, "morning", zerolog.Nop(), WithClock(func() time.Time { return noon }))
	return f
}

func TestPlanDay_Routing(t *testing.T) {
	f := newFixture(t, "afternoon", []domain.WorkUnitDescriptor{
		{Category: "research", Actions: []string{"search", "summarize"}, TargetPhase: domain.PhaseImmediate},
		{Category: "research", Actions: []string{"search"}, TargetPhase: "afternoon"},
		{Category: "journal", Actions: []string{"write"}, TargetPhase: "evening", Priority: 2},
		{Category: "journal", Actions: []string{"write"}},
	})

	plan, err := f.planner.PlanDay(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2026-03-14", plan.Date)
	assert.Equal(t, domain.Phase("afternoon"), plan.Phase)
	require.Len(t, plan.Accepted, 4)
	assert.Empty(t, plan.Rejected)

	assert.Len(t, f.sink.units, 3, "immediate, current phase and default target go straight to the orchestrator")
	assert.Equal(t, map[domain.Phase]int{"evening": 1}, f.queue.Depths())

	assert.Equal(t, domain.Amount(10), plan.Accepted[0].EstimatedCost)
	assert.Equal(t, domain.Amount(0), plan.Accepted[2].EstimatedCost, "unknown actions fail later at dispatch")
}

func TestPlanDay_OneUnitPerDescriptor(t *testing.T) {
	descs := make([]domain.WorkUnitDescriptor, 5)
	for i := range descs {
		descs[i] = domain.WorkUnitDescriptor{Category: "research", Actions: []string{"search"}, TargetPhase: "night"}
	}
	f := newFixture(t, "afternoon", descs)

	plan, err := f.planner.PlanDay(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Accepted, 5)

	ids := map[string]bool{}
	for _, s := range plan.Accepted {
		ids[s.ID] = true
		assert.Equal(t, domain.StatePlanned, s.State)
	}
	assert.Len(t, ids, 5)
	assert.Equal(t, 5, f.queue.Len())
}

func TestPlanDay_Rejections(t *testing.T) {
	f := newFixture(t, "afternoon", []domain.WorkUnitDescriptor{
		{Category: "gardening", Actions: []string{"search"}},
		{Category: "research", Actions: nil},
		{Category: "research", Actions: []string{"search"}, TargetPhase: "brunch"},
		{Category: "research", Actions: []string{"search"}},
	})

	plan, err := f.planner.PlanDay(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Rejected, 3)
	assert.Equal(t, 0, plan.Rejected[0].Index)
	assert.Contains(t, plan.Rejected[0].Reason, "unknown category")
	assert.Contains(t, plan.Rejected[1].Reason, "no actions")
	assert.Contains(t, plan.Rejected[2].Reason, "unknown day phase")
	assert.Len(t, plan.Accepted, 1)
}

func TestPlanDay_ContextForDecider(t *testing.T) {
	f := newFixture(t, "afternoon", nil)

	_, err := f.planner.PlanDay(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f.seen)

	assert.Equal(t, []domain.Phase{"morning", "afternoon", "evening", "night"}, f.seen.Phases)
	assert.Len(t, f.seen.Budget, 2)
	require.Len(t, f.seen.Actions, 2)
	assert.Equal(t, "search", f.seen.Actions[0].ID)
}

func TestPlanDay_DeciderError(t *testing.T) {
	f := newFixture(t, "afternoon", nil)
	f.planner.deps.Decider = DeciderFunc(func(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error) {
		return nil, errors.New("decision service offline")
	})

	_, err := f.planner.PlanDay(context.Background())
	assert.ErrorIs(t, err, domain.ErrPlannerFailed)
	assert.Contains(t, err.Error(), "decision service offline")
}

func TestOnPhase_PlansOnlyAtPlanningPhase(t *testing.T) {
	f := newFixture(t, "morning", []domain.WorkUnitDescriptor{
		{Category: "research", Actions: []string{"search"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.planner.Run(ctx) }()

	f.planner.OnPhase("evening")
	f.planner.OnPhase("morning")

	require.Eventually(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.units) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

type movingPhase struct {
	mu sync.Mutex
	p  domain.Phase
}

func (m *movingPhase) Current() domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p
}

func (m *movingPhase) set(p domain.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = p
}

// The afternoon boundary passes while the decider is still answering; the
// afternoon unit must not wait for tomorrow's afternoon.
func TestPlanDay_PhaseChangesDuringDecide(t *testing.T) {
	f := newFixture(t, "morning", nil)
	ph := &movingPhase{p: "morning"}
	f.planner.deps.Phase = ph
	f.planner.deps.Decider = DeciderFunc(func(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error) {
		assert.Equal(t, domain.Phase("morning"), pc.CurrentPhase)
		ph.set("afternoon")
		f.queue.OnPhaseChanged("afternoon")
		return []domain.WorkUnitDescriptor{
			{Category: "research", Actions: []string{"search"}, TargetPhase: "afternoon"},
		}, nil
	})

	plan, err := f.planner.PlanDay(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Phase("afternoon"), plan.Phase)
	require.Len(t, plan.Accepted, 1)
	assert.Len(t, f.sink.units, 1)
	assert.Empty(t, f.queue.Depths())
}
