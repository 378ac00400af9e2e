package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/registry"
)

// Journal appends the unit's focus text to the journal, keyed by local day.
type Journal struct {
	Writer   JournalWriter
	Location *time.Location
	Now      func() time.Time
}

func (j *Journal) Execute(ctx context.Context, req registry.Request) domain.ActionResult {
	text := strings.TrimSpace(req.FocusText)
	if text == "" {
		return failure(errors.New("journal entry needs focus text"), 0)
	}
	now := j.Now().In(j.Location)
	err := j.Writer.Append(ctx, domain.JournalEntry{
		Day:       now.Format(time.DateOnly),
		UnitID:    req.UnitID,
		Category:  req.Category,
		Text:      text,
		CreatedAt: now.Unix(),
	})
	if err != nil {
		return failure(fmt.Errorf("append journal: %w", err), 0)
	}
	return domain.ActionResult{Success: true, ActualCost: req.Reserved}
}
