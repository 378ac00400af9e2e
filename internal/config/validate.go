package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/phase"
)

// ActionKinds lists the built-in action families.
var ActionKinds = []string{"wait", "journal", "webhook", "command"}

// Validate checks structural validity. The returned error is an EngineError
// with code ErrConfigInvalid wrapping criterio field errors.
func (c *Config) Validate() error {
	err := criterio.ValidateStruct(
		criterio.Run("db_path", c.DBPath, required),
		criterio.Run("listen_addr", c.ListenAddr, required),
		criterio.Run("timezone", c.Timezone, validTimezone),
		criterio.Run("reset_time", c.ResetTime, validClock),
		criterio.Run("log_level", c.LogLevel, validLevel),
		c.validateIntervals(),
		c.validatePhases(),
		c.validateCategories(),
		c.validateActions(),
		c.validatePlanner(),
	)
	if err != nil {
		return &invalidError{cause: err}
	}
	return nil
}

// invalidError reports as ErrConfigInvalid while keeping the criterio field
// errors reachable through errors.As.
type invalidError struct {
	cause error
}

func (e *invalidError) Error() string {
	return fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Error(), e.cause)
}

func (e *invalidError) Is(target error) bool { return target == domain.ErrConfigInvalid }

func (e *invalidError) Unwrap() error { return e.cause }

func required(s string) error {
	if s == "" {
		return errors.New("is required")
	}
	return nil
}

func validClock(s string) error {
	_, err := phase.ParseClock(s)
	return err
}

func validLevel(s string) error {
	_, err := zerolog.ParseLevel(s)
	return err
}

func (c *Config) validateIntervals() error {
	var errs criterio.FieldErrorsBuilder
	positive := map[string]time.Duration{
		"tick_interval":     c.TickInterval,
		"phase_interval":    c.PhaseInterval,
		"stall_threshold":   c.StallThreshold,
		"snapshot_interval": c.SnapshotInterval,
	}
	for _, field := range []string{"tick_interval", "phase_interval", "stall_threshold", "snapshot_interval"} {
		if positive[field] <= 0 {
			errs = errs.Append(field, errors.New("must be positive"))
		}
	}
	if c.UnitTTL < 0 {
		errs = errs.Append("unit_ttl", errors.New("must not be negative"))
	}
	if c.RetryLimit < 0 {
		errs = errs.Append("retry_limit", errors.New("must not be negative"))
	}
	return errs.ToError()
}

func validTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown time zone %q", tz)
	}
	return nil
}

func (c *Config) validatePhases() error {
	sched, err := phase.NewSchedule(c.Phases, time.UTC)
	if err != nil {
		return criterio.NewFieldErrors("phases", err)
	}
	if c.PlanPhase != "" && !sched.Contains(c.PlanPhase) {
		return criterio.NewFieldErrors("plan_phase", fmt.Errorf("%q is not a configured phase", c.PlanPhase))
	}
	return nil
}

func (c *Config) validateCategories() error {
	var errs criterio.FieldErrorsBuilder
	if len(c.Categories) == 0 {
		errs = errs.Append("categories", errors.New("at least one category is required"))
	}
	for _, cat := range c.CategoryNames() {
		cc := c.Categories[cat]
		field := fmt.Sprintf("categories.%s", cat)
		if cat == "" {
			errs = errs.Append("categories", errors.New("category name is empty"))
		}
		if cc.DailyLimit < 0 {
			errs = errs.Append(field+".daily_limit", errors.New("must not be negative"))
		}
		if cc.MaxConcurrency < 1 {
			errs = errs.Append(field+".max_concurrency", errors.New("must be at least 1"))
		}
	}
	return errs.ToError()
}

func (c *Config) validateActions() error {
	var errs criterio.FieldErrorsBuilder
	seen := make(map[string]bool, len(c.Actions))
	for i, a := range c.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if a.ID == "" {
			errs = errs.Append(field+".id", errors.New("is required"))
		} else if seen[a.ID] {
			errs = errs.Append(field+".id", fmt.Errorf("duplicate action %q", a.ID))
		}
		seen[a.ID] = true

		if _, ok := c.Categories[a.Category]; !ok {
			errs = errs.Append(field+".category", fmt.Errorf("unknown category %q", a.Category))
		}
		if a.EstimatedCost < 0 {
			errs = errs.Append(field+".estimated_cost", errors.New("must not be negative"))
		}
		switch a.Kind {
		case "wait", "journal":
		case "webhook":
			if a.URL == "" {
				errs = errs.Append(field+".url", errors.New("is required for webhook actions"))
			}
		case "command":
			if a.Command == "" {
				errs = errs.Append(field+".command", errors.New("is required for command actions"))
			}
		default:
			errs = errs.Append(field+".kind", fmt.Errorf("must be one of %v", ActionKinds))
		}
	}
	return errs.ToError()
}

func (c *Config) validatePlanner() error {
	switch c.Planner.Kind {
	case "":
		return nil
	case "file":
		return criterio.Run("planner.path", c.Planner.Path, required)
	case "http":
		return criterio.Run("planner.url", c.Planner.URL, required)
	default:
		return criterio.NewFieldErrors("planner.kind", fmt.Errorf("must be file or http, got %q", c.Planner.Kind))
	}
}
