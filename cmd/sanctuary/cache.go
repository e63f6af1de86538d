package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear locally cached messages",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions with cached messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := e.client()
			if err != nil {
				return err
			}
			ids, err := c.Cache.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "no cached sessions")
				return nil
			}
			for _, id := range ids {
				last := "never opened"
				if t, ok, err := c.Cache.LastAccessed(cmd.Context(), id); err == nil && ok {
					last = "opened " + t.Local().Format(time.RFC1123)
				}
				entry, err := c.Cache.Entry(cmd.Context(), id)
				if err != nil {
					fmt.Fprintf(out, "%s  unreadable (%v)\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s  %d messages  %s\n", id, len(entry.Messages), last)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [session-id]",
		Short: "Clear one session's cache, or all of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := c.Cache.Clear(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return nil
			}
			if err := c.Cache.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared all cached sessions")
			return nil
		},
	})
	return cmd
}
