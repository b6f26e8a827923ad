package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"parley/cmd/internal/app"
	"parley/cmd/internal/realtime"

	"github.com/spf13/cobra"
)

// newSweepMirrorCmd runs the presence mirror sweeper without the HTTP server,
// for deployments where several server processes share one database.
func newSweepMirrorCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep-mirror",
		Short: "Mark stale presence rows offline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := app.OpenStorage(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			sweeper := realtime.NewMirrorSweeper(st.Mirror, log)
			sweeper.Timeout = cfg.MirrorTimeout
			sweeper.Interval = cfg.MirrorSweepInterval

			if once {
				n, err := sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "expired=%d\n", n)
				return err
			}

			sweeper.Run(ctx)
			if ctx.Err() != nil && ctx.Err() != context.Canceled {
				return ctx.Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "sweep a single time and exit")
	return cmd
}
