package phase

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/workflow"
)

type recordingSink struct {
	mu    sync.Mutex
	units []*workflow.Unit
	err   error
}

func (s *recordingSink) Submit(u *workflow.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.units = append(s.units, u)
	return nil
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.units))
	for i, u := range s.units {
		out[i] = u.ID()
	}
	return out
}

func plannedUnit(t *testing.T, cat domain.Category) *workflow.Unit {
	t.Helper()
	u, err := workflow.NewUnit(domain.WorkUnitDescriptor{Actions: []string{"noop"}, Category: cat}, 1, time.Now())
	require.NoError(t, err)
	return u
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(defaultSchedule(t), sink, zerolog.Nop())

	a := plannedUnit(t, "research")
	b := plannedUnit(t, "research")
	c := plannedUnit(t, "growth")
	d := plannedUnit(t, "growth")
	require.NoError(t, q.QueueForPhase(a, "evening", 5))
	require.NoError(t, q.QueueForPhase(b, "evening", 1))
	require.NoError(t, q.QueueForPhase(c, "evening", 5))
	require.NoError(t, q.QueueForPhase(d, "evening", 1))

	entries := q.Entries("evening")
	require.Len(t, entries, 4)
	assert.Equal(t, []string{b.ID(), d.ID(), a.ID(), c.ID()},
		[]string{entries[0].UnitID, entries[1].UnitID, entries[2].UnitID, entries[3].UnitID})

	assert.Equal(t, 4, q.OnPhaseChanged("evening"))
	assert.Equal(t, []string{b.ID(), d.ID(), a.ID(), c.ID()}, sink.ids())
	for _, u := range []*workflow.Unit{a, b, c, d} {
		assert.Equal(t, domain.StateScheduled, u.State())
	}
}

func TestQueue_DrainIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(defaultSchedule(t), sink, zerolog.Nop())
	require.NoError(t, q.QueueForPhase(plannedUnit(t, "research"), "night", 0))

	assert.Equal(t, 1, q.OnPhaseChanged("night"))
	assert.Equal(t, 0, q.OnPhaseChanged("night"))
	assert.Len(t, sink.ids(), 1)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_OtherPhasesUntouched(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(defaultSchedule(t), sink, zerolog.Nop())
	require.NoError(t, q.QueueForPhase(plannedUnit(t, "research"), "night", 0))

	assert.Equal(t, 0, q.OnPhaseChanged("morning"))
	assert.Equal(t, map[domain.Phase]int{"night": 1}, q.Depths())
}

func TestQueue_SkipsUnitsNoLongerPlanned(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(defaultSchedule(t), sink, zerolog.Nop())

	u := plannedUnit(t, "research")
	require.NoError(t, q.QueueForPhase(u, "morning", 0))
	require.NoError(t, u.Schedule()) // dispatched through another path

	assert.Equal(t, 0, q.OnPhaseChanged("morning"))
	assert.Empty(t, sink.ids())
}

func TestQueue_SinkErrorDoesNotStopDrain(t *testing.T) {
	sink := &recordingSink{err: errors.New("inbox closed")}
	q := NewQueue(defaultSchedule(t), sink, zerolog.Nop())
	require.NoError(t, q.QueueForPhase(plannedUnit(t, "research"), "morning", 0))
	require.NoError(t, q.QueueForPhase(plannedUnit(t, "research"), "morning", 0))

	assert.Equal(t, 0, q.OnPhaseChanged("morning"))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Rejects(t *testing.T) {
	q := NewQueue(defaultSchedule(t), &recordingSink{}, zerolog.Nop())
	u := plannedUnit(t, "research")

	assert.ErrorIs(t, q.QueueForPhase(u, "brunch", 0), domain.ErrUnknownPhase)
	assert.ErrorIs(t, q.QueueForPhase(u, domain.PhaseImmediate, 0), domain.ErrUnknownPhase)

	require.NoError(t, q.QueueForPhase(u, "morning", 0))
	assert.ErrorIs(t, q.QueueForPhase(u, "evening", 0), domain.ErrDuplicateUnit)

	scheduled := plannedUnit(t, "research")
	require.NoError(t, scheduled.Schedule())
	assert.ErrorIs(t, q.QueueForPhase(scheduled, "morning", 0), domain.ErrInvalidTransition)
}

func TestQueue_TakeAndRemove(t *testing.T) {
	q := NewQueue(defaultSchedule(t), &recordingSink{}, zerolog.Nop())
	a := plannedUnit(t, "research")
	b := plannedUnit(t, "research")
	require.NoError(t, q.QueueForPhase(a, "evening", 0))
	require.NoError(t, q.QueueForPhase(b, "evening", 0))

	got, ok := q.Lookup(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = q.Take(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, domain.StatePlanned, got.State())

	assert.True(t, q.Remove(b.ID()))
	assert.False(t, q.Remove(b.ID()))
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Depths())
}

func TestQueue_ActivePhaseReleasesImmediately(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(defaultSchedule(t), sink, zerolog.Nop())

	assert.Equal(t, 0, q.OnPhaseChanged("afternoon"))

	late := plannedUnit(t, "research")
	require.NoError(t, q.QueueForPhase(late, "afternoon", 0))
	assert.Equal(t, []string{late.ID()}, sink.ids())
	assert.Equal(t, domain.StateScheduled, late.State())
	assert.Equal(t, 0, q.Len())

	next := plannedUnit(t, "research")
	require.NoError(t, q.QueueForPhase(next, "evening", 0))
	assert.Equal(t, map[domain.Phase]int{"evening": 1}, q.Depths(), "later phases still wait")

	assert.Equal(t, 1, q.OnPhaseChanged("evening"))
	other := plannedUnit(t, "research")
	require.NoError(t, q.QueueForPhase(other, "afternoon", 0))
	assert.Equal(t, map[domain.Phase]int{"afternoon": 1}, q.Depths(), "a past phase waits for tomorrow")
}
