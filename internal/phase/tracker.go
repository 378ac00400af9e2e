package phase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
)

// TransitionFunc is called when a new phase begins. It runs on the tracker
// loop and must hand work off rather than block.
type TransitionFunc func(domain.Phase)

// Tracker samples the clock and owns the current phase.
type Tracker struct {
	schedule       *Schedule
	interval       time.Duration
	stallThreshold time.Duration
	now            func() time.Time
	log            zerolog.Logger

	// sampleMu serializes Sample so each crossing fires callbacks once.
	sampleMu sync.Mutex

	mu          sync.RWMutex
	current     domain.Phase
	lastSample  time.Time
	stalls      int
	callbacks   []TransitionFunc
	transitions int
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithStallThreshold sets how late a sample may be before it counts as a stall.
func WithStallThreshold(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.stallThreshold = d }
}

// NewTracker creates a tracker sampling every interval. Zero values get
// defaults: 5s interval, stall threshold equal to the interval.
func NewTracker(schedule *Schedule, interval time.Duration, log zerolog.Logger, opts ...TrackerOption) *Tracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := &Tracker{
		schedule: schedule,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "phase_tracker").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.stallThreshold <= 0 {
		t.stallThreshold = t.interval
	}
	return t
}

// OnTransition registers a callback. Callbacks run in registration order.
func (t *Tracker) OnTransition(cb TransitionFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Current returns the current phase, or "" before the first sample.
func (t *Tracker) Current() domain.Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Stalls returns how many samples arrived later than interval + threshold.
func (t *Tracker) Stalls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stalls
}

// Transitions returns how many phase changes have been observed.
func (t *Tracker) Transitions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transitions
}

// Schedule returns the tracker's schedule.
func (t *Tracker) Schedule() *Schedule {
	return t.schedule
}

// Sample evaluates the phase at now. When it differs from the current phase
// (or on the first sample) the state is updated and every callback is
// invoked before Sample returns. It reports the phase and whether it changed.
func (t *Tracker) Sample(now time.Time) (domain.Phase, bool) {
	t.sampleMu.Lock()
	defer t.sampleMu.Unlock()

	p := t.schedule.At(now)

	t.mu.Lock()
	if !t.lastSample.IsZero() {
		if gap := now.Sub(t.lastSample); gap > t.interval+t.stallThreshold {
			t.stalls++
			t.log.Warn().
				Err(domain.ErrPhaseTrackerStall).
				Dur("gap", gap).
				Dur("interval", t.interval).
				Msg("phase sampling fell behind")
		}
	}
	t.lastSample = now

	if p == t.current {
		t.mu.Unlock()
		return p, false
	}
	prev := t.current
	t.current = p
	t.transitions++
	cbs := append([]TransitionFunc(nil), t.callbacks...)
	t.mu.Unlock()

	t.log.Info().Str("from", string(prev)).Str("to", string(p)).Msg("phase transition")
	for _, cb := range cbs {
		cb(p)
	}
	return p, true
}

// Run samples immediately and then every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	t.Sample(t.now())

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sample(t.now())
		}
	}
}
