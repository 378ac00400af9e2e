package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/rogers-f/cadence/internal/commands"
	"github.com/rogers-f/cadence/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}
	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	var logCloser func()
	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "cadence",
		Usage:     "Budget-bounded autonomous work orchestrator",
		UsageText: "cadence [global options] command [command options]",
		Description: `Cadence plans work units each day, holds them until their phase of the
day begins, and runs them only while their category has budget left.

Run 'cadence serve' to start the daemon. The other commands talk to a
running daemon over its local HTTP API.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("CADENCE_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stderr)",
				Sources:     cli.EnvVars("CADENCE_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("CADENCE_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "address of a running daemon",
				Sources:     cli.EnvVars("CADENCE_ADDR"),
				Value:       "127.0.0.1:9800",
				Destination: &flags.Addr,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if flags.LogFile == "" {
				logger, err := logutils.Console(flags.LogLevel)
				if err != nil {
					return ctx, fmt.Errorf("setup logger: %w", err)
				}
				log.Logger = logger
				return ctx, nil
			}

			logger, closer, err := logutils.New(flags.LogLevel, flags.LogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewServeCmd(flags).Register(app)
	app = commands.NewStatusCmd(flags).Register(app)
	app = commands.NewPlanCmd(flags).Register(app)
	app = commands.NewControlCmd(flags).Register(app)
	app = commands.NewConfigCmd(flags).Register(app)

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
