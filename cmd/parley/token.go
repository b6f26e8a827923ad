package main

import (
	"fmt"
	"time"

	"parley/cmd/internal/account"
	"parley/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var skipLookup bool

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if cfg.TokenSecretHex == "" {
				return fmt.Errorf("PARLEY_PASETO_V4_SECRET_KEY_HEX is not set; a token signed with an ephemeral key is useless")
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

			userID, err := account.ParseUserID(args[0])
			if err != nil {
				return err
			}

			if !skipLookup {
				st, err := app.OpenStorage(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer st.Close()
				if _, err := st.Directory.ByID(cmd.Context(), userID); err != nil {
					return fmt.Errorf("lookup user %s: %w", userID, err)
				}
			}

			tokens, err := app.NewTokenManager(cfg, log)
			if err != nil {
				return err
			}
			tok, exp, err := tokens.Issue(userID, time.Now().UTC())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_at=%s\n", tok, exp.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().BoolVar(&skipLookup, "skip-lookup", false, "do not check that the user exists")
	return cmd
}
