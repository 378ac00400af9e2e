package actions

import (
	"context"
	"time"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/registry"
)

// Wait holds the unit for its duration hint. It costs what was reserved
// unless cancelled first.
type Wait struct{}

func (Wait) Execute(ctx context.Context, req registry.Request) domain.ActionResult {
	if req.DurationHint > 0 {
		timer := time.NewTimer(req.DurationHint)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return failure(ctx.Err(), 0)
		case <-timer.C:
		}
	}
	return domain.ActionResult{Success: true, ActualCost: req.Reserved}
}
