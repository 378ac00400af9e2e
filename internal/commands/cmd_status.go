package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/ipc"
)

type StatusCmd struct {
	flags *Flags

	jsonOutput bool
	day        string
}

// NewStatusCmd creates the status, unit and history commands.
func NewStatusCmd(flags *Flags) *StatusCmd {
	return &StatusCmd{flags: flags}
}

// Register adds the read-only commands to the application.
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := &cli.BoolFlag{
		Name:        "json",
		Usage:       "output as JSON",
		Destination: &cmd.jsonOutput,
	}
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "status",
			Usage:     "Show budget, queues and recent units",
			UsageText: "cadence status [--json]",
			Flags:     []cli.Flag{jsonFlag},
			Action:    cmd.runStatus,
		},
		&cli.Command{
			Name:      "unit",
			Usage:     "Show one work unit",
			UsageText: "cadence unit <id> [--json]",
			Flags:     []cli.Flag{jsonFlag},
			Action:    cmd.runUnit,
		},
		&cli.Command{
			Name:      "history",
			Usage:     "Show finished units and journal entries for a day",
			UsageText: "cadence history [--day YYYY-MM-DD] [--json]",
			Flags: []cli.Flag{
				jsonFlag,
				&cli.StringFlag{
					Name:        "day",
					Usage:       "calendar day in the daemon's timezone (defaults to today)",
					Destination: &cmd.day,
				},
			},
			Action: cmd.runHistory,
		},
	)
	return app
}

func (cmd *StatusCmd) runStatus(ctx context.Context, c *cli.Command) error {
	st, err := cmd.flags.client().Status(ctx)
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, st)
	}
	printStatus(c.Root().Writer, st)
	return nil
}

func printStatus(w io.Writer, st domain.Status) {
	dispatch := "running"
	if st.Paused {
		dispatch = "paused"
	}
	fmt.Fprintf(w, "phase: %s   dispatch: %s\n\n", st.CurrentPhase, dispatch)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tSPENT\tRESERVED\tLIMIT\tPRESSURE\tQUEUED\tRUNNING\tRESETS\tNOTE")
	for _, cs := range st.Categories {
		note := cs.Blocked
		if cs.Halted {
			note = "halted: " + cs.HaltedReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			cs.Category,
			amount(cs.Spent),
			amount(cs.Reserved),
			amount(cs.DailyLimit),
			cs.Pressure,
			cs.Queued,
			cs.InFlight,
			humanize.Time(cs.ResetAt),
			note,
		)
	}
	tw.Flush()

	if len(st.PhaseQueues) > 0 {
		phases := make([]string, 0, len(st.PhaseQueues))
		for p, n := range st.PhaseQueues {
			phases = append(phases, fmt.Sprintf("%s=%d", p, n))
		}
		sort.Strings(phases)
		fmt.Fprintf(w, "\nwaiting for phase: %v\n", phases)
	}

	if len(st.Recent) == 0 {
		return
	}
	fmt.Fprintln(w)
	printSummaries(w, st.Recent)
}

func printSummaries(w io.Writer, units []domain.WorkUnitSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tCATEGORY\tSTATE\tCOST\tFINISHED\tREASON")
	for _, u := range units {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			u.ID,
			u.Category,
			u.State,
			amount(u.ActualCost),
			when(u.FinishedAt),
			u.FailureReason,
		)
	}
	tw.Flush()
}

func (cmd *StatusCmd) runUnit(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("unit id is required")
	}
	u, err := cmd.flags.client().Unit(ctx, id)
	if err != nil {
		return err
	}
	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, u)
	}

	w := c.Root().Writer
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", u.ID)
	fmt.Fprintf(tw, "category\t%s\n", u.Category)
	fmt.Fprintf(tw, "state\t%s\n", u.State)
	fmt.Fprintf(tw, "phase\t%s\n", u.TargetPhase)
	fmt.Fprintf(tw, "priority\t%d\n", u.Priority)
	fmt.Fprintf(tw, "attempt\t%d\n", u.Attempt)
	fmt.Fprintf(tw, "estimated\t%s\n", amount(u.EstimatedCost))
	fmt.Fprintf(tw, "actual\t%s\n", amount(u.ActualCost()))
	fmt.Fprintf(tw, "created\t%s\n", when(u.CreatedAt))
	fmt.Fprintf(tw, "finished\t%s\n", when(u.FinishedAt))
	if u.FocusText != "" {
		fmt.Fprintf(tw, "focus\t%s\n", u.FocusText)
	}
	if u.FailureReason != "" {
		fmt.Fprintf(tw, "reason\t%s\n", u.FailureReason)
	}
	tw.Flush()

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tRESULT\tCOST\tERROR")
	for i, action := range u.Actions {
		result, cost, msg := "pending", "-", ""
		if i < len(u.Results) {
			r := u.Results[i]
			result = "ok"
			if !r.Success {
				result = "failed"
			}
			cost, msg = amount(r.ActualCost), r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", action, result, cost, msg)
	}
	return tw.Flush()
}

func (cmd *StatusCmd) runHistory(ctx context.Context, c *cli.Command) error {
	h, err := cmd.flags.client().History(ctx, cmd.day)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, h)
	}
	printHistory(c.Root().Writer, h)
	return nil
}

func printHistory(w io.Writer, h ipc.HistoryResponse) {
	fmt.Fprintf(w, "day: %s\n\n", h.Day)

	cats := make([]string, 0, len(h.Spent))
	for cat := range h.Spent {
		cats = append(cats, string(cat))
	}
	sort.Strings(cats)
	for _, cat := range cats {
		fmt.Fprintf(w, "spent %s: %s\n", cat, amount(h.Spent[domain.Category(cat)]))
	}

	if len(h.Units) > 0 {
		fmt.Fprintln(w)
		summaries := make([]domain.WorkUnitSummary, len(h.Units))
		for i, u := range h.Units {
			summaries[i] = u.Summary()
		}
		printSummaries(w, summaries)
	}

	if len(h.Journal) > 0 {
		fmt.Fprintln(w)
		for _, e := range h.Journal {
			fmt.Fprintf(w, "[%s] %s: %s\n", time.Unix(e.CreatedAt, 0).Format(time.Kitchen), e.Category, e.Text)
		}
	}
}

func amount(a domain.Amount) string {
	return humanize.Comma(int64(a))
}

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
