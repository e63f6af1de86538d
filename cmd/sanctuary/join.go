package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/sanctuary/internal/app"
	"github.com/vovakirdan/sanctuary/internal/core"
)

func newJoinCmd(e *env) *cobra.Command {
	var opts app.JoinOptions
	cmd := &cobra.Command{
		Use:   "join <session-id>",
		Short: "Join a sanctuary interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.client()
			if err != nil {
				return err
			}
			opts.SessionID = args[0]
			if opts.AvatarIndex == 0 {
				opts.AvatarIndex = e.cfg.Client.AvatarIndex
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s, err := c.Join(ctx, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if first, err := c.Cache.MarkWelcomeShown(ctx, opts.SessionID); err == nil && first {
				fmt.Fprintln(out, welcomeText)
			}
			role := "participant"
			if s.IsHost {
				role = "host"
			}
			fmt.Fprintf(out, "joining %s as %s, /help for commands\n", opts.SessionID, role)

			runErr := make(chan error, 1)
			go func() { runErr <- s.Run(ctx) }()

			con := &console{out: out, session: s.Session}
			rendered := make(chan struct{})
			go func() {
				defer close(rendered)
				con.render(ctx)
			}()

			lines := readLines(cmd.InOrStdin())
			for {
				select {
				case line, ok := <-lines:
					if !ok {
						line = "/leave"
					}
					err := con.handle(ctx, line)
					if errors.Is(err, errLeave) {
						if err := s.Session.Leave(ctx); err != nil {
							e.log.Warn().Err(err).Msg("leave failed")
						}
						err = <-runErr
						<-rendered
						return exitError(err)
					}
					if err != nil {
						fmt.Fprintf(out, "-- %v\n", err)
					}
				case err := <-runErr:
					<-rendered
					return exitError(err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&opts.Alias, "alias", "", "name shown to others (default from config, else anonymous)")
	cmd.Flags().IntVar(&opts.AvatarIndex, "avatar", 0, "avatar index")
	cmd.Flags().BoolVar(&opts.Audio, "audio", false, "join as a live-audio participant")
	return cmd
}

// exitError keeps the ways a sanctuary ends for everyone out of the exit status.
func exitError(err error) error {
	switch {
	case err == nil, errors.Is(err, core.ErrSessionClosed), errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, core.ErrKicked):
		return errors.New("removed from the sanctuary")
	default:
		return err
	}
}
