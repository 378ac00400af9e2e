// Package actions implements the built-in action families and builds the
// registry table from configuration.
package actions

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/config"
	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/registry"
)

// JournalWriter persists journal entries.
type JournalWriter interface {
	Append(ctx context.Context, e domain.JournalEntry) error
}

// Deps are the shared resources handed to built-in actions.
type Deps struct {
	Journal  JournalWriter
	Client   *http.Client
	Location *time.Location
	Now      func() time.Time
	Log      zerolog.Logger
}

// Build turns action configuration into registry entries. It is called at
// startup and again on every reload.
func Build(specs []config.ActionConfig, deps Deps) ([]registry.Entry, error) {
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	entries := make([]registry.Entry, 0, len(specs))
	for _, s := range specs {
		var h registry.Handler
		switch s.Kind {
		case "", "wait":
			h = Wait{}
		case "journal":
			if deps.Journal == nil {
				return nil, domain.Detail(domain.ErrInvalidAction, "%s: journal store not configured", s.ID)
			}
			h = &Journal{Writer: deps.Journal, Location: deps.Location, Now: deps.Now}
		case "webhook":
			h = &Webhook{URL: s.URL, Client: deps.Client, Timeout: s.Timeout, Log: deps.Log}
		case "command":
			h = &Command{Name: s.Command, Args: s.Args, Env: s.Env, Timeout: s.Timeout, Log: deps.Log}
		default:
			return nil, domain.Detail(domain.ErrInvalidAction, "%s: unknown kind %q", s.ID, s.Kind)
		}
		entries = append(entries, registry.Entry{
			Definition: domain.ActionDefinition{
				ID:              s.ID,
				Kind:            s.Kind,
				Category:        s.Category,
				EstimatedCost:   s.EstimatedCost,
				DefaultDuration: s.Duration,
			},
			Handler: h,
		})
	}
	return entries, nil
}

func failure(err error, cost domain.Amount) domain.ActionResult {
	return domain.ActionResult{Success: false, ActualCost: cost, Error: err.Error()}
}
