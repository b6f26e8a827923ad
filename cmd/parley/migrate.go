package main

import (
	"errors"
	"fmt"

	"parley/cmd/internal/app"
	"parley/cmd/internal/database"

	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("PARLEY_DATABASE_URL is not set")

func databaseURL() (string, error) {
	url := app.LoadConfig().DatabaseURL
	if url == "" {
		return "", errNoDatabase
	}
	return url, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := databaseURL()
				if err != nil {
					return err
				}
				if err := database.RunMigrations(url); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := databaseURL()
				if err != nil {
					return err
				}
				if err := database.RollbackAll(url); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return err
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := databaseURL()
				if err != nil {
					return err
				}
				version, dirty, ok, err := database.Version(url)
				if err != nil {
					return err
				}
				if !ok {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
				return err
			},
		},
	)

	return cmd
}
