package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"activitybot/internal/activity"
	"activitybot/internal/database"
	"activitybot/pkg/utils"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the activity leaderboard from the database",
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

		ranked, err := activity.Top(cmd.Context(), database.NewRepository(db), topLimit)
		if err != nil {
			return fmt.Errorf("load leaderboard: %w", err)
		}
		if len(ranked) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no data yet")
			return nil
		}
		out := cmd.OutOrStdout()
		for i, r := range ranked {
			details := fmt.Sprintf("%d messages, %s in voice (score: %d)",
				r.Record.Messages, utils.FormatVoiceTime(r.Record.VoiceTime), r.Score)
			fmt.Fprintln(out, utils.FormatLeaderboardEntry(i+1, r.Record.UserID, details))
		}
		return nil
	},
}

func init() {
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 5, "number of entries to print")
}
