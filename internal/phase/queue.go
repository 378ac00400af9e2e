package phase

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/workflow"
)

// Sink receives units released from a phase queue. The orchestrator's
// Submit is the production sink; it must be safe to call from the tracker loop.
type Sink interface {
	Submit(u *workflow.Unit) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(u *workflow.Unit) error

// Submit calls f.
func (f SinkFunc) Submit(u *workflow.Unit) error { return f(u) }

type queued struct {
	entry domain.QueueEntry
	unit  *workflow.Unit
}

// Queue holds PLANNED units until the phase they target begins.
type Queue struct {
	mu       sync.Mutex
	schedule *Schedule
	sink     Sink
	log      zerolog.Logger
	seq      uint64
	lists    map[domain.Phase][]queued
	index    map[string]domain.Phase
	// active is the phase most recently drained. Units queued for it are
	// released at once instead of waiting a full day.
	active domain.Phase
}

// NewQueue creates a queue that releases units into sink.
func NewQueue(schedule *Schedule, sink Sink, log zerolog.Logger) *Queue {
	return &Queue{
		schedule: schedule,
		sink:     sink,
		log:      log.With().Str("component", "phase_queue").Logger(),
		lists:    make(map[domain.Phase][]queued),
		index:    make(map[string]domain.Phase),
	}
}

// QueueForPhase inserts a PLANNED unit into phase's list, ordered by priority
// ascending and FIFO within a priority. A unit targeting the phase already in
// progress goes straight to the sink.
func (q *Queue) QueueForPhase(u *workflow.Unit, p domain.Phase, priority int) error {
	if !q.schedule.Contains(p) {
		return domain.Detail(domain.ErrUnknownPhase, "%q", p)
	}
	if st := u.State(); st != domain.StatePlanned {
		return domain.Detail(domain.ErrInvalidTransition, "queue unit %s in state %s", u.ID(), st)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := u.ID()
	if _, exists := q.index[id]; exists {
		return domain.Detail(domain.ErrDuplicateUnit, "%s", id)
	}
	if p == q.active {
		if err := u.Schedule(); err != nil {
			return err
		}
		q.log.Debug().Str("unit", id).Str("phase", string(p)).Msg("phase already active, releasing unit")
		return q.sink.Submit(u)
	}
	q.seq++
	item := queued{
		entry: domain.QueueEntry{UnitID: id, Phase: p, Priority: priority, Seq: q.seq},
		unit:  u,
	}
	list := q.lists[p]
	at := sort.Search(len(list), func(i int) bool { return list[i].entry.Priority > priority })
	list = append(list, queued{})
	copy(list[at+1:], list[at:])
	list[at] = item
	q.lists[p] = list
	q.index[id] = p
	return nil
}

// OnPhaseChanged drains p's list in priority order, moves each unit to
// SCHEDULED and hands it to the sink. Units that left PLANNED while queued
// are skipped, so a repeated call for the same phase releases nothing.
// It returns the number of units released.
func (q *Queue) OnPhaseChanged(p domain.Phase) int {
	q.mu.Lock()
	q.active = p
	list := q.lists[p]
	delete(q.lists, p)
	for _, item := range list {
		delete(q.index, item.entry.UnitID)
	}
	q.mu.Unlock()

	released := 0
	for _, item := range list {
		if err := item.unit.Schedule(); err != nil {
			q.log.Debug().Str("unit", item.entry.UnitID).Err(err).Msg("skip unit no longer planned")
			continue
		}
		if err := q.sink.Submit(item.unit); err != nil {
			q.log.Error().Str("unit", item.entry.UnitID).Err(err).Msg("submit released unit")
			continue
		}
		released++
	}
	if len(list) > 0 {
		q.log.Info().Str("phase", string(p)).Int("released", released).Int("queued", len(list)).Msg("phase queue drained")
	}
	return released
}

func (q *Queue) removeLocked(id string) (*workflow.Unit, bool) {
	p, ok := q.index[id]
	if !ok {
		return nil, false
	}
	list := q.lists[p]
	for i, item := range list {
		if item.entry.UnitID == id {
			q.lists[p] = append(list[:i:i], list[i+1:]...)
			delete(q.index, id)
			return item.unit, true
		}
	}
	return nil, false
}

// Take removes a unit from its phase list and returns it still PLANNED.
func (q *Queue) Take(id string) (*workflow.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

// Remove drops a unit from its phase list.
func (q *Queue) Remove(id string) bool {
	_, ok := q.Take(id)
	return ok
}

// Lookup returns a queued unit without removing it.
func (q *Queue) Lookup(id string) (*workflow.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.index[id]
	if !ok {
		return nil, false
	}
	for _, item := range q.lists[p] {
		if item.entry.UnitID == id {
			return item.unit, true
		}
	}
	return nil, false
}

// Entries returns the queued entries for p in drain order.
func (q *Queue) Entries(p domain.Phase) []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueueEntry, len(q.lists[p]))
	for i, item := range q.lists[p] {
		out[i] = item.entry
	}
	return out
}

// Depths returns the number of queued units per phase.
func (q *Queue) Depths() map[domain.Phase]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[domain.Phase]int, len(q.lists))
	for p, list := range q.lists {
		if len(list) > 0 {
			out[p] = len(list)
		}
	}
	return out
}

// Len returns the total number of queued units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}
