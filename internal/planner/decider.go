package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rogers-f/cadence/internal/domain"
)

// planFile is the on-disk plan format read by FileDecider.
//
//	units:            # used for any day without its own entry
//	  - category: research
//	    actions: [search, summarize]
//	    target_phase: afternoon
//	days:
//	  "2026-03-14":
//	    - category: journal
//	      actions: [write]
type planFile struct {
	Units []domain.WorkUnitDescriptor            `yaml:"units"`
	Days  map[string][]domain.WorkUnitDescriptor `yaml:"days"`
}

// FileDecider reads descriptors from a YAML file on every call, so edits take
// effect at the next planning pass.
type FileDecider struct {
	Path string
}

// Decide implements Decider.
func (d FileDecider) Decide(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", d.Path, err)
	}
	if day, ok := pf.Days[pc.Date]; ok {
		return day, nil
	}
	return pf.Units, nil
}

// HTTPDecider posts the plan context to an external decision endpoint and
// expects {"units": [...]} back.
type HTTPDecider struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

type decideResponse struct {
	Units []domain.WorkUnitDescriptor `json:"units"`
}

// Decide implements Decider.
func (d HTTPDecider) Decide(ctx context.Context, pc PlanContext) ([]domain.WorkUnitDescriptor, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("encode plan context: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build decide request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call decider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("decider returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode decider response: %w", err)
	}
	return out.Units, nil
}
