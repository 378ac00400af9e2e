package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/rogers-f/cadence/internal/config"
)

type ConfigCmd struct {
	flags *Flags
}

// NewConfigCmd creates the config command group.
func NewConfigCmd(flags *Flags) *ConfigCmd {
	return &ConfigCmd{flags: flags}
}

// Register adds the config commands to the application.
func (cmd *ConfigCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate the configuration file",
				UsageText:   "cadence config validate",
				Description: "Loads the config file with defaults applied and reports the categories, phases and actions it declares.",
				Action:      cmd.runValidate,
			},
			{
				Name:      "defaults",
				Usage:     "Print the default configuration as YAML",
				UsageText: "cadence config defaults > config.yaml",
				Action:    cmd.runDefaults,
			},
		},
	})
	return app
}

func (cmd *ConfigCmd) runValidate(ctx context.Context, c *cli.Command) error {
	cfg, err := config.Load(cmd.flags.ConfigPath)
	if err != nil {
		return err
	}

	w := c.Root().Writer
	fmt.Fprintf(w, "%s is valid\n\n", cmd.flags.ConfigPath)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tDAILY LIMIT\tCONCURRENCY")
	for _, cat := range cfg.CategoryNames() {
		cc := cfg.Categories[cat]
		fmt.Fprintf(tw, "%s\t%s\t%d\n", cat, amount(cc.DailyLimit), cc.MaxConcurrency)
	}
	tw.Flush()

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSTART")
	for _, b := range cfg.Phases {
		fmt.Fprintf(tw, "%s\t%s\n", b.Name, b.Start)
	}
	tw.Flush()

	if len(cfg.Actions) == 0 {
		fmt.Fprintln(w, "\nno actions declared")
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tKIND\tCATEGORY\tESTIMATE")
	for _, a := range cfg.Actions {
		kind := a.Kind
		if kind == "" {
			kind = "wait"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, kind, a.Category, amount(a.EstimatedCost))
	}
	return tw.Flush()
}

func (cmd *ConfigCmd) runDefaults(ctx context.Context, c *cli.Command) error {
	enc := yaml.NewEncoder(c.Root().Writer)
	enc.SetIndent(2)
	if err := enc.Encode(config.Default()); err != nil {
		return err
	}
	return enc.Close()
}
