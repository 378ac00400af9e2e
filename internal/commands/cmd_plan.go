package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

type PlanCmd struct {
	flags *Flags

	jsonOutput bool
}

// NewPlanCmd creates the plan command.
func NewPlanCmd(flags *Flags) *PlanCmd {
	return &PlanCmd{flags: flags}
}

// Register adds the plan command to the application.
func (cmd *PlanCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "plan",
		Usage:     "Run a planning pass now",
		UsageText: "cadence plan [--json]",
		Description: `Asks the daemon's decision process for today's work units and reports
which were accepted and which were rejected.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *PlanCmd) run(ctx context.Context, c *cli.Command) error {
	plan, err := cmd.flags.client().Plan(ctx)
	if err != nil {
		return fmt.Errorf("plan day: %w", err)
	}
	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, plan)
	}

	w := c.Root().Writer
	fmt.Fprintf(w, "plan for %s (%s): %d accepted, %d rejected\n\n", plan.Date, plan.Phase, len(plan.Accepted), len(plan.Rejected))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tCATEGORY\tPHASE\tPRIORITY\tESTIMATE\tACTIONS")
	for _, u := range plan.Accepted {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%v\n", u.ID, u.Category, u.TargetPhase, u.Priority, amount(u.EstimatedCost), u.Actions)
	}
	tw.Flush()

	for _, r := range plan.Rejected {
		fmt.Fprintf(w, "rejected #%d (%s): %s\n", r.Index, r.Descriptor.Category, r.Reason)
	}
	return nil
}
