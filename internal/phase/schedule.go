// Package phase maps wall-clock time onto the recurring day phases and holds
// work units until the phase they target begins.
package phase

import (
	"fmt"
	"sort"
	"time"

	"github.com/rogers-f/cadence/internal/domain"
)

// Boundary is the start of one day phase, as "HH:MM" local time.
type Boundary struct {
	Name  domain.Phase `yaml:"name" json:"name"`
	Start string       `yaml:"start" json:"start"`
}

// DefaultBoundaries is the four-phase day used when none are configured.
var DefaultBoundaries = []Boundary{
	{Name: "morning", Start: "06:00"},
	{Name: "afternoon", Start: "12:00"},
	{Name: "evening", Start: "18:00"},
	{Name: "night", Start: "22:00"},
}

type boundary struct {
	name   domain.Phase
	offset time.Duration
}

// Schedule is an ordered cycle of phases covering the whole day.
type Schedule struct {
	bounds []boundary
	loc    *time.Location
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NewSchedule validates boundaries and sorts them by start time.
func NewSchedule(bounds []Boundary, loc *time.Location) (*Schedule, error) {
	if len(bounds) == 0 {
		return nil, domain.Detail(domain.ErrInvalidSchedule, "no phases")
	}
	if loc == nil {
		loc = time.Local
	}

	s := &Schedule{loc: loc, bounds: make([]boundary, 0, len(bounds))}
	names := make(map[domain.Phase]bool, len(bounds))
	for _, b := range bounds {
		if b.Name == "" || b.Name == domain.PhaseImmediate {
			return nil, domain.Detail(domain.ErrInvalidSchedule, "invalid phase name %q", b.Name)
		}
		if names[b.Name] {
			return nil, domain.Detail(domain.ErrInvalidSchedule, "duplicate phase %q", b.Name)
		}
		names[b.Name] = true

		off, err := ParseClock(b.Start)
		if err != nil {
			return nil, domain.WrapEngineError(domain.ErrInvalidSchedule.Code, domain.ErrInvalidSchedule.Message, err)
		}
		s.bounds = append(s.bounds, boundary{name: b.Name, offset: off})
	}

	sort.Slice(s.bounds, func(i, j int) bool { return s.bounds[i].offset < s.bounds[j].offset })
	for i := 1; i < len(s.bounds); i++ {
		if s.bounds[i].offset == s.bounds[i-1].offset {
			return nil, domain.Detail(domain.ErrInvalidSchedule, "%s and %s start at the same time",
				s.bounds[i-1].name, s.bounds[i].name)
		}
	}
	return s, nil
}

// At returns the phase in effect at t: the one whose start is the latest at
// or before t's time of day. Times before the first start belong to the last
// phase of the previous day.
func (s *Schedule) At(t time.Time) domain.Phase {
	local := t.In(s.loc)
	tod := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	cur := s.bounds[len(s.bounds)-1].name
	for _, b := range s.bounds {
		if b.offset > tod {
			break
		}
		cur = b.name
	}
	return cur
}

// Next returns the phase that follows p in the cycle.
func (s *Schedule) Next(p domain.Phase) (domain.Phase, error) {
	for i, b := range s.bounds {
		if b.name == p {
			return s.bounds[(i+1)%len(s.bounds)].name, nil
		}
	}
	return "", domain.Detail(domain.ErrUnknownPhase, "%q", p)
}

// Names returns the phases in start order.
func (s *Schedule) Names() []domain.Phase {
	out := make([]domain.Phase, len(s.bounds))
	for i, b := range s.bounds {
		out[i] = b.name
	}
	return out
}

// Contains reports whether p is a phase of this schedule.
func (s *Schedule) Contains(p domain.Phase) bool {
	for _, b := range s.bounds {
		if b.name == p {
			return true
		}
	}
	return false
}

// Location returns the time zone the schedule is evaluated in.
func (s *Schedule) Location() *time.Location {
	return s.loc
}
