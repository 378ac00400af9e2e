package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/cadence/internal/domain"
)

func TestFileDecider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
units:
  - category: research
    actions: [search, summarize]
    target_phase: afternoon
    priority: 2
    focus_text: tide tables
days:
  "2026-03-15":
    - category: journal
      actions: [write]
`), 0o644))

	d := FileDecider{Path: path}

	got, err := d.Decide(context.Background(), PlanContext{Date: "2026-03-14"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.WorkUnitDescriptor{
		Category:    "research",
		Actions:     []string{"search", "summarize"},
		TargetPhase: "afternoon",
		Priority:    2,
		FocusText:   "tide tables",
	}, got[0])

	got, err = d.Decide(context.Background(), PlanContext{Date: "2026-03-15"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Category("journal"), got[0].Category)
}

func TestFileDecider_Errors(t *testing.T) {
	_, err := FileDecider{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Decide(context.Background(), PlanContext{})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("units: [:::"), 0o644))
	_, err = FileDecider{Path: path}.Decide(context.Background(), PlanContext{})
	assert.Error(t, err)
}

func TestHTTPDecider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var pc PlanContext
		require.NoError(t, json.NewDecoder(r.Body).Decode(&pc))
		assert.Equal(t, "2026-03-14", pc.Date)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"units": []map[string]any{
				{"category": "curiosity", "actions": []string{"browse"}, "target_phase": "evening"},
			},
		})
	}))
	defer srv.Close()

	got, err := HTTPDecider{URL: srv.URL, Timeout: time.Second}.Decide(context.Background(), PlanContext{Date: "2026-03-14"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Phase("evening"), got[0].TargetPhase)
}

func TestHTTPDecider_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := HTTPDecider{URL: srv.URL}.Decide(context.Background(), PlanContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "overloaded")
}
