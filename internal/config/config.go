// Package config loads the orchestrator's YAML configuration.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/phase"
)

// CategoryConfig is the budget and concurrency setting for one category.
type CategoryConfig struct {
	DailyLimit     domain.Amount `yaml:"daily_limit"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// ActionConfig declares one built-in action to register at start and on reload.
type ActionConfig struct {
	ID            string          `yaml:"id"`
	Kind          string          `yaml:"kind"` // wait, journal, webhook, command
	Category      domain.Category `yaml:"category"`
	EstimatedCost domain.Amount   `yaml:"estimated_cost"`
	Duration      time.Duration   `yaml:"duration"`
	URL           string          `yaml:"url"`
	Timeout       time.Duration   `yaml:"timeout"`

	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// PlannerConfig selects the decision process.
type PlannerConfig struct {
	Kind    string        `yaml:"kind"` // file, http, or empty for none
	Path    string        `yaml:"path"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds the orchestrator's runtime configuration.
type Config struct {
	DBPath           string                             `yaml:"db_path"`
	ListenAddr       string                             `yaml:"listen_addr"`
	Timezone         string                             `yaml:"timezone"`
	TickInterval     time.Duration                      `yaml:"tick_interval"`
	PhaseInterval    time.Duration                      `yaml:"phase_interval"`
	StallThreshold   time.Duration                      `yaml:"stall_threshold"`
	SnapshotInterval time.Duration                      `yaml:"snapshot_interval"`
	UnitTTL          time.Duration                      `yaml:"unit_ttl"`
	RetryLimit       int                                `yaml:"retry_limit"`
	ResetTime        string                             `yaml:"reset_time"`
	PlanPhase        domain.Phase                       `yaml:"plan_phase"`
	Phases           []phase.Boundary                   `yaml:"phases"`
	Categories       map[domain.Category]CategoryConfig `yaml:"categories"`
	Actions          []ActionConfig                     `yaml:"actions"`
	Planner          PlannerConfig                      `yaml:"planner"`
	LogLevel         string                             `yaml:"log_level"`
	LogFile          string                             `yaml:"log_file"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "cadence.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9800"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.PhaseInterval == 0 {
		c.PhaseInterval = 5 * time.Second
	}
	if c.StallThreshold == 0 {
		c.StallThreshold = c.PhaseInterval
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 30 * time.Second
	}
	if c.ResetTime == "" {
		c.ResetTime = "00:00"
	}
	if c.PlanPhase == "" {
		c.PlanPhase = "morning"
	}
	if len(c.Phases) == 0 {
		c.Phases = append([]phase.Boundary(nil), phase.DefaultBoundaries...)
	}
	if len(c.Categories) == 0 {
		c.Categories = make(map[domain.Category]CategoryConfig, len(domain.DefaultCategories))
		for _, cat := range domain.DefaultCategories {
			c.Categories[cat] = CategoryConfig{DailyLimit: 100}
		}
	}
	for cat, cc := range c.Categories {
		if cc.MaxConcurrency == 0 {
			cc.MaxConcurrency = 1
			c.Categories[cat] = cc
		}
	}
	for i := range c.Actions {
		if c.Actions[i].Kind == "" {
			c.Actions[i].Kind = "wait"
		}
	}
	if c.Planner.Timeout == 0 {
		c.Planner.Timeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ResetOffset returns the daily reset time as an offset from midnight.
func (c *Config) ResetOffset() (time.Duration, error) {
	return phase.ParseClock(c.ResetTime)
}

// Limits returns the daily limit of every category.
func (c *Config) Limits() map[domain.Category]domain.Amount {
	out := make(map[domain.Category]domain.Amount, len(c.Categories))
	for cat, cc := range c.Categories {
		out[cat] = cc.DailyLimit
	}
	return out
}

// Concurrency returns the per-category concurrency caps.
func (c *Config) Concurrency() map[domain.Category]int {
	out := make(map[domain.Category]int, len(c.Categories))
	for cat, cc := range c.Categories {
		out[cat] = cc.MaxConcurrency
	}
	return out
}

// CategoryNames returns the configured categories sorted by name.
func (c *Config) CategoryNames() []domain.Category {
	out := make([]domain.Category, 0, len(c.Categories))
	for cat := range c.Categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
