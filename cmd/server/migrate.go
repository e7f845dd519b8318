package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/socialfeed/pkg/database"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(false)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := database.Migrate(a.db); err != nil {
				return err
			}
			logger.Info("schema migrated")
			return nil
		},
	}
}
