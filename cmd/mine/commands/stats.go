package commands

import (
	"github.com/spf13/cobra"

	"github.com/solvaholic/channelmine/internal/config"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long: `Display statistics about the local database: row counts, the date range
of stored messages, the latest run and a per-route rate-limit summary.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(&config.Settings{})
	if err != nil {
		return err
	}

	database, err := openDB(settings)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := database.Stats()
	if err != nil {
		return err
	}

	rateLimits, err := database.RateLimitSummary()
	if err != nil {
		return err
	}

	latest, err := database.LatestRun()
	if err != nil {
		return err
	}

	output := map[string]interface{}{
		"status":      "success",
		"database":    stats,
		"rate_limits": rateLimits,
	}
	if latest != nil {
		output["latest_run"] = latest
	}

	return OutputJSON(output)
}
