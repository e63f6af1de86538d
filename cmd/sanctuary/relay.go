package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/sanctuary/internal/app"
)

func newRelayCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the development relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := e.cfg.Relay
			application, err := app.New(&cfg, e.log)
			if err != nil {
				return err
			}

			e.log.Info().Str("addr", cfg.Addr).Msg("starting sanctuary relay")
			if err := application.Run(cmd.Context()); err != nil {
				return err
			}
			e.log.Info().Msg("relay stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&e.overrides.Relay.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&e.overrides.Relay.DatabasePath, "db", "", "sqlite database path")
	cmd.Flags().DurationVar(&e.overrides.Relay.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	cmd.Flags().DurationVar(&e.overrides.Relay.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	return cmd
}
