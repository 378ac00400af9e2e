package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/rogers-f/cadence/internal/config"
	"github.com/rogers-f/cadence/pkg/logutils"
)

type ServeCmd struct {
	flags *Flags
}

// NewServeCmd creates the serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the orchestrator daemon",
		UsageText: "cadence serve",
		Description: `Starts the budget ledger, phase tracker, planner and orchestrator, and
serves the control API on listen_addr.

SIGHUP reloads the action table from the config file. SIGINT or SIGTERM
cancels in-flight units, writes a final snapshot and exits.`,
		Action: cmd.run,
	})
	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg, err := cmd.flags.loadConfig()
	if err != nil {
		return err
	}

	logger := log.Logger
	level, file := cmd.flags.LogLevel, cmd.flags.LogFile
	if !c.Root().IsSet("log-level") && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	if file == "" {
		file = cfg.LogFile
	}
	if level != cmd.flags.LogLevel || file != cmd.flags.LogFile {
		l, closer, err := logutils.New(level, file)
		if err != nil {
			return fmt.Errorf("setup logger: %w", err)
		}
		defer closer()
		logger = l
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.close(); err != nil {
			logger.Error().Err(err).Msg("close database")
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	reload := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("db", cfg.DBPath).
		Strs("actions", d.registry.IDs()).
		Bool("planner", d.planner != nil).
		Msg("cadence starting")

	load := func() (*config.Config, error) { return config.Load(cmd.flags.ConfigPath) }
	if err := d.run(ctx, reload, load); err != nil {
		return err
	}
	logger.Info().Msg("cadence stopped")
	return nil
}
