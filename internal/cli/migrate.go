package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"activitybot/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := database.New(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		v, err := db.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("database ready", slog.String("dialect", string(db.Dialect())), slog.Int("schema_version", v))
		return nil
	},
}
