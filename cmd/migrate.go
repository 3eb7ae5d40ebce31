package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/db"
	"github.com/leafcheck/leafcheck/internal/config"
)

var flagMigrateURL string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		slog.SetDefault(logger)

		connURL := flagMigrateURL
		if connURL == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			connURL = cfg.PostgresURL()
		}

		if err := db.Migrate(connURL); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&flagMigrateURL, "database-url", "",
		"postgres:// URL to migrate (default: from configuration)")
	rootCmd.AddCommand(migrateCmd)
}
