// Package commands implements the cadence CLI.
package commands

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/rogers-f/cadence/internal/config"
	"github.com/rogers-f/cadence/internal/ipc"
)

// Flags are the global options shared by every command.
type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	Addr       string
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "cadence", "config.yaml")
}

// loadConfig reads the config file. A missing file yields the defaults.
func (f *Flags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", f.ConfigPath).Msg("config file not found, using defaults")
		return config.Default(), nil
	}
	return cfg, err
}

func (f *Flags) client() *ipc.Client {
	return ipc.NewClient(f.Addr)
}
