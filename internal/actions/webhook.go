package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/registry"
)

const maxResponseBody = 64 << 10

type webhookRequest struct {
	UnitID   string          `json:"unit_id"`
	ActionID string          `json:"action_id"`
	Category domain.Category `json:"category"`
	Focus    string          `json:"focus"`
}

type webhookResponse struct {
	ActualCost *domain.Amount `json:"actual_cost"`
}

// Webhook POSTs the action to an external endpoint. Any 2xx response is a
// success; a JSON body may report actual_cost, otherwise the reservation is
// charged. Transport errors cost nothing.
type Webhook struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	Log     zerolog.Logger
}

func (w *Webhook) Execute(ctx context.Context, req registry.Request) domain.ActionResult {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(webhookRequest{
		UnitID:   req.UnitID,
		ActionID: req.ActionID,
		Category: req.Category,
		Focus:    req.FocusText,
	})
	if err != nil {
		return failure(fmt.Errorf("marshal webhook body: %w", err), 0)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Errorf("build webhook request: %w", err), 0)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(httpReq)
	if err != nil {
		return failure(fmt.Errorf("webhook %s: %w", req.ActionID, err), 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return failure(fmt.Errorf("read webhook response: %w", err), req.Reserved)
	}

	w.Log.Debug().
		Str("unit", req.UnitID).
		Str("action", req.ActionID).
		Int("status", resp.StatusCode).
		Msg("webhook delivered")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, snippet(data)), req.Reserved)
	}

	result := domain.ActionResult{Success: true, ActualCost: req.Reserved}
	if len(bytes.TrimSpace(data)) > 0 && json.Valid(data) {
		result.Payload = json.RawMessage(data)
		var wr webhookResponse
		if json.Unmarshal(data, &wr) == nil && wr.ActualCost != nil {
			result.ActualCost = *wr.ActualCost
		}
	}
	return result
}

func snippet(b []byte) string {
	const n = 200
	s := string(bytes.TrimSpace(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
