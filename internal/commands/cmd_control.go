package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/rogers-f/cadence/internal/domain"
)

type ControlCmd struct {
	flags *Flags

	reason string
}

// NewControlCmd creates the operator commands that change daemon state.
func NewControlCmd(flags *Flags) *ControlCmd {
	return &ControlCmd{flags: flags}
}

// Register adds pause, resume, cancel, trigger and budget to the application.
func (cmd *ControlCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:   "pause",
			Usage:  "Stop dispatching new units",
			Action: cmd.runPause,
		},
		&cli.Command{
			Name:   "resume",
			Usage:  "Resume dispatching",
			Action: cmd.runResume,
		},
		&cli.Command{
			Name:      "cancel",
			Usage:     "Cancel a queued, waiting or running unit",
			UsageText: "cadence cancel <id> [--reason text]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "reason",
					Usage:       "reason recorded on the unit",
					Destination: &cmd.reason,
				},
			},
			Action: cmd.runCancel,
		},
		&cli.Command{
			Name:      "trigger",
			Usage:     "Move a unit to the front of its queue, ignoring its phase",
			UsageText: "cadence trigger <id>",
			Action:    cmd.runTrigger,
		},
		&cli.Command{
			Name:  "budget",
			Usage: "Budget overrides for the current day",
			Commands: []*cli.Command{
				{
					Name:      "adjust",
					Usage:     "Raise or lower a category's limit until the next reset",
					UsageText: "cadence budget adjust <category> <delta>",
					Action:    cmd.runAdjust,
				},
				{
					Name:      "resume",
					Usage:     "Clear a category halted by a ledger violation",
					UsageText: "cadence budget resume <category>",
					Action:    cmd.runResumeCategory,
				},
			},
		},
	)
	return app
}

func (cmd *ControlCmd) runPause(ctx context.Context, c *cli.Command) error {
	if err := cmd.flags.client().Pause(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.Root().Writer, "dispatch paused")
	return nil
}

func (cmd *ControlCmd) runResume(ctx context.Context, c *cli.Command) error {
	if err := cmd.flags.client().Resume(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.Root().Writer, "dispatch resumed")
	return nil
}

func (cmd *ControlCmd) runCancel(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("unit id is required")
	}
	if err := cmd.flags.client().Cancel(ctx, id, cmd.reason); err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "cancel requested for %s\n", id)
	return nil
}

func (cmd *ControlCmd) runTrigger(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("unit id is required")
	}
	if err := cmd.flags.client().Trigger(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "triggered %s\n", id)
	return nil
}

func (cmd *ControlCmd) runAdjust(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: %s", c.UsageText)
	}
	cat := domain.Category(c.Args().Get(0))
	delta, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
	if err != nil {
		return domain.Detail(domain.ErrInvalidAmount, "delta %q", c.Args().Get(1))
	}
	a, err := cmd.flags.client().AdjustBudget(ctx, cat, domain.Amount(delta))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "%s: limit %s, available %s\n", a.Category, amount(a.DailyLimit), amount(a.Available()))
	return nil
}

func (cmd *ControlCmd) runResumeCategory(ctx context.Context, c *cli.Command) error {
	cat := c.Args().First()
	if cat == "" {
		return fmt.Errorf("category is required")
	}
	if err := cmd.flags.client().ResumeCategory(ctx, domain.Category(cat)); err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "%s resumed\n", cat)
	return nil
}
