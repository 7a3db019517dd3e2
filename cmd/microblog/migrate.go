package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/pkg/database"
	"github.com/d60-Lab/microblog/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if err := database.Migrate(a.db, model.All()...); err != nil {
			return err
		}
		logger.Info("migration finished")
		return nil
	},
}
