package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/sanctuary/internal/app"
	"github.com/vovakirdan/sanctuary/internal/config"
	applog "github.com/vovakirdan/sanctuary/internal/log"
)

// env carries what every subcommand needs after the root pre-run.
type env struct {
	configPath string
	overrides  config.Config
	logFile    string

	cfg     config.Config
	log     *zerolog.Logger
	closers []func() error
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "sanctuary",
		Short:         "Anonymous, ephemeral support sanctuaries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return e.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&e.configPath, "config", "", "config file (default ./config.yaml or $SANCTUARY_CONFIG_DEFAULT_PATH/config.yaml)")
	flags.StringVar(&e.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error, off")
	flags.StringVar(&e.overrides.LogFormat, "log-format", "", "log format: console or json")
	flags.StringVar(&e.logFile, "log-file", "", "write logs to this file instead of stderr")
	flags.StringVar(&e.overrides.Client.APIURL, "api", "", "relay HTTP base URL")
	flags.StringVar(&e.overrides.Client.ServerURL, "server", "", "relay event stream URL")
	flags.StringVar(&e.overrides.Client.Storage.Driver, "storage", "", "local storage: memory, sqlite or redis")
	flags.StringVar(&e.overrides.Client.Storage.Path, "storage-path", "", "sqlite file for local storage")
	flags.StringVar(&e.overrides.Client.Storage.RedisURL, "redis-url", "", "redis URL for local storage")

	root.AddCommand(
		newRelayCmd(e),
		newCreateCmd(e),
		newJoinCmd(e),
		newDashboardCmd(e),
		newEndCmd(e),
		newCacheCmd(e),
	)
	return root
}

func (e *env) load() error {
	bootLogger := applog.New("warn", "console")
	cfg, _, err := config.Load(bootLogger, e.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(e.overrides)
	e.cfg = cfg

	if e.logFile == "" {
		e.log = applog.New(cfg.LogLevel, cfg.LogFormat)
		return nil
	}
	f, err := os.OpenFile(e.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	e.closers = append(e.closers, f.Close)
	e.log = applog.NewWithWriter(f, cfg.LogLevel, cfg.LogFormat)
	return nil
}

// client opens local storage; it is closed after the command.
func (e *env) client() (*app.Client, error) {
	c, err := app.NewClient(e.cfg.Client, e.log)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, c.Close)
	return c, nil
}

func (e *env) close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}
