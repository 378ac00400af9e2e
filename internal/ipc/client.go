package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/planner"
)

// Client talks to a running control surface.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient accepts either host:port or a full base URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches the observability snapshot.
func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st)
	return st, err
}

// Unit fetches one unit.
func (c *Client) Unit(ctx context.Context, id string) (domain.WorkUnit, error) {
	var u domain.WorkUnit
	err := c.do(ctx, http.MethodGet, "/api/v1/units/"+url.PathEscape(id), nil, &u)
	return u, err
}

// Plan runs a planning pass.
func (c *Client) Plan(ctx context.Context) (planner.Plan, error) {
	var p planner.Plan
	err := c.do(ctx, http.MethodPost, "/api/v1/plan", nil, &p)
	return p, err
}

// Pause stops dispatch.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/pause", nil, nil)
}

// Resume re-enables dispatch.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/resume", nil, nil)
}

// Trigger moves a unit to the front of its queue.
func (c *Client) Trigger(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/units/"+url.PathEscape(id)+"/trigger", nil, nil)
}

// Cancel cancels a unit.
func (c *Client) Cancel(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/units/"+url.PathEscape(id)+"/cancel", CancelRequest{Reason: reason}, nil)
}

// AdjustBudget changes a category's limit for the current day.
func (c *Client) AdjustBudget(ctx context.Context, cat domain.Category, delta domain.Amount) (domain.Allocation, error) {
	var a domain.Allocation
	err := c.do(ctx, http.MethodPost, "/api/v1/budget/"+url.PathEscape(string(cat))+"/adjust", AdjustRequest{Delta: &delta}, &a)
	return a, err
}

// ResumeCategory clears a category halt.
func (c *Client) ResumeCategory(ctx context.Context, cat domain.Category) error {
	return c.do(ctx, http.MethodPost, "/api/v1/budget/"+url.PathEscape(string(cat))+"/resume", nil, nil)
}

// History fetches the persisted record for day; empty means today.
func (c *Client) History(ctx context.Context, day string) (HistoryResponse, error) {
	var h HistoryResponse
	path := "/api/v1/history"
	if day != "" {
		path += "?day=" + url.QueryEscape(day)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &h)
	return h, err
}

// do sends a request and decodes a JSON response into out. Error responses
// are turned back into EngineErrors so callers can match sentinels.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr APIError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return domain.NewEngineError(apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
