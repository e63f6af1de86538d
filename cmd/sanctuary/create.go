package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newCreateCmd(e *env) *cobra.Command {
	var (
		mode     string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create <topic>",
		Short: "Create a sanctuary and keep its host token on this device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.client()
			if err != nil {
				return err
			}
			info, err := c.Create(cmd.Context(), strings.Join(args, " "), mode, duration)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sanctuary %s created\n", info.ID)
			fmt.Fprintf(out, "  topic:   %s\n", info.Topic)
			fmt.Fprintf(out, "  mode:    %s\n", info.Mode)
			fmt.Fprintf(out, "  expires: %s\n", info.ExpiresAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "share the id; join as host with: sanctuary join %s\n", info.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "text", "text or audio")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "lifetime of the sanctuary (max 24h)")
	return cmd
}
