package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/cadence/internal/domain"
)

const validYAML = `
db_path: /tmp/cadence.db
timezone: UTC
tick_interval: 2s
unit_ttl: 6h
reset_time: "04:00"
plan_phase: morning
categories:
  research:
    daily_limit: 500
    max_concurrency: 2
  journal:
    daily_limit: 50
actions:
  - id: think
    category: research
    estimated_cost: 10
    duration: 1m
  - id: write
    kind: journal
    category: journal
    estimated_cost: 1
  - id: notify
    kind: webhook
    category: research
    url: http://localhost:9999/hook
planner:
  kind: file
  path: /tmp/plan.yaml
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cadence.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cadence.db", cfg.DBPath)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, 6*time.Hour, cfg.UnitTTL)
	assert.Equal(t, domain.Amount(500), cfg.Categories["research"].DailyLimit)
	assert.Equal(t, 2, cfg.Categories["research"].MaxConcurrency)
	assert.Equal(t, 1, cfg.Categories["journal"].MaxConcurrency, "defaulted")
	assert.Equal(t, "wait", cfg.Actions[0].Kind, "defaulted")
	assert.Equal(t, time.Minute, cfg.Actions[0].Duration)
	assert.Equal(t, []domain.Category{"journal", "research"}, cfg.CategoryNames())

	off, err := cfg.ResetOffset()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, off)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9800", cfg.ListenAddr)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.PhaseInterval)
	assert.Equal(t, cfg.PhaseInterval, cfg.StallThreshold)
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, "00:00", cfg.ResetTime)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Len(t, cfg.Phases, 4)
	assert.Len(t, cfg.Categories, len(domain.DefaultCategories))
	assert.Equal(t, domain.Amount(100), cfg.Limits()["reflection"])
	assert.Equal(t, 1, cfg.Concurrency()["creative"])
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "categories: [unterminated"))
	assert.Error(t, err)
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad_timezone", "timezone: Mars/Olympus\n", "timezone"},
		{"bad_reset", "reset_time: \"25:61\"\n", "reset_time"},
		{"bad_level", "log_level: chatty\n", "log_level"},
		{"negative_ttl", "unit_ttl: -1s\n", "unit_ttl"},
		{"negative_retry", "retry_limit: -2\n", "retry_limit"},
		{"unknown_plan_phase", "plan_phase: brunch\n", "plan_phase"},
		{"duplicate_phase_start", "phases:\n  - {name: a, start: \"06:00\"}\n  - {name: b, start: \"06:00\"}\nplan_phase: a\n", "phases"},
		{"negative_limit", "categories:\n  research: {daily_limit: -5}\n", "categories.research.daily_limit"},
		{"action_unknown_category", "actions:\n  - {id: x, category: nope}\n", "actions[0].category"},
		{"action_bad_kind", "actions:\n  - {id: x, kind: teleport, category: research}\n", "actions[0].kind"},
		{"webhook_without_url", "actions:\n  - {id: x, kind: webhook, category: research}\n", "actions[0].url"},
		{"command_without_command", "actions:\n  - {id: x, kind: command, category: research}\n", "actions[0].command"},
		{"duplicate_action", "actions:\n  - {id: x, category: research}\n  - {id: x, category: research}\n", "actions[1].id"},
		{"planner_kind", "planner: {kind: oracle}\n", "planner.kind"},
		{"planner_http_url", "planner: {kind: http}\n", "planner.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)

			var fieldErrs criterio.FieldErrors
			require.ErrorAs(t, err, &fieldErrs)
			fields := make([]string, len(fieldErrs))
			for i, fe := range fieldErrs {
				fields[i] = fe.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}
