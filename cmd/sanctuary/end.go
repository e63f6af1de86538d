package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEndCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a sanctuary you host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.client()
			if err != nil {
				return err
			}
			if err := c.End(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sanctuary %s ended\n", args[0])
			return nil
		},
	}
}
