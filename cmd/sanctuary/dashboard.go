package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/sanctuary/internal/recovery"
)

func newDashboardCmd(e *env) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the sanctuaries hosted from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := e.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !watch {
				listing, err := c.Recovery.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				printListing(out, listing, time.Now())
				return nil
			}

			err = c.Recovery.Watch(cmd.Context(), e.cfg.Client.DashboardRefresh, func(listing recovery.Listing, err error) {
				if err != nil {
					fmt.Fprintf(out, "refresh failed: %v\n", err)
					return
				}
				printListing(out, listing, time.Now())
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "refresh periodically until interrupted")
	return cmd
}

func printListing(out io.Writer, listing recovery.Listing, now time.Time) {
	a := listing.Analytics
	fmt.Fprintf(out, "\n%s\n", now.Format(time.Kitchen))
	fmt.Fprintf(out, "active %d  expiring soon %d  expired %d\n", a.Active, a.ExpiringSoon, a.Expired)
	fmt.Fprintf(out, "messages %d  participants %d  engagement %.1f\n", a.TotalMessages, a.TotalParticipants, a.AverageEngagement)
	if len(listing.Sanctuaries) == 0 {
		fmt.Fprintln(out, "no sanctuaries hosted from this device")
		return
	}
	for _, s := range listing.Sanctuaries {
		state := "expires in " + s.ExpiresAt.Sub(now).Truncate(time.Minute).String()
		if !s.Active(now) {
			state = "closed"
		}
		marker := " "
		if s.ID == a.MostActiveSession {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %-5s  %-30q  %3d msgs  %2d people  %s\n",
			marker, s.ID, s.Mode, s.Topic, s.MessageCount, s.ParticipantCount, state)
	}
}
