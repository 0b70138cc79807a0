package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pennaio/penna/db"
	"github.com/pennaio/penna/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := newLogger()
		if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("database schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
