package main

import (
	"parley/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "parley",
		Short:         "parley presence and realtime delivery server",
		Long:          "parley tracks which users are online, broadcasts the online set over WebSocket and HTTP polling, and relays chat, typing and call signalling to reachable users.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(app.LoadConfig())
		},
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSweepMirrorCmd(),
		newTokenCmd(),
	)

	return rootCmd
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return app.Run(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PARLEY_HTTP_ADDR)")
	return cmd
}
