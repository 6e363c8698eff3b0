package cli

import (
	"os"

	"github.com/spf13/cobra"

	"activitybot/internal/config"
	"activitybot/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "activitybot",
	Short: "Discord activity tracker with a decaying status role",
	Long: "activitybot counts messages and voice time per member, grants a status role " +
		"to active members and takes it back after a period of inactivity.",
	SilenceUsage: true,
	RunE:         runBot,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(topCmd)
}

// loadConfig loads configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	telemetry.SetupLogging(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}
