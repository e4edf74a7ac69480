package main

import (
	"github.com/spf13/cobra"

	"pss-server/pkg/config"
	"pss-server/pkg/database"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.LoadDatabase(logger)
			if err != nil {
				return err
			}

			db, err := database.Open(cmd.Context(), *cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.WithField("driver", db.Driver()).Info("Database schema is up to date")
			return nil
		},
	}
}
