package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solvaholic/channelmine/internal/config"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Show stored user statistics",
	Long: `Users lists the per-author statistics saved by earlier fetches, most
active authors first.

Examples:
  mine users --limit 20
  mine users --id 123456789012345678`,
	RunE: runUsers,
}

var (
	usersLimit int
	usersID    string
)

func init() {
	rootCmd.AddCommand(usersCmd)

	usersCmd.Flags().IntVar(&usersLimit, "limit", 0, "Maximum number of users (default: all)")
	usersCmd.Flags().StringVar(&usersID, "id", "", "Show a single user")
}

func runUsers(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(&config.Settings{})
	if err != nil {
		return err
	}

	database, err := openDB(settings)
	if err != nil {
		return err
	}
	defer database.Close()

	if usersID != "" {
		user, err := database.GetUserStats(usersID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("no statistics stored for user %s", usersID)
		}
		return OutputJSON(user)
	}

	users, err := database.ListUserStats(usersLimit)
	if err != nil {
		return err
	}

	if outputFormat == "jsonl" {
		return OutputJSONL(users)
	}
	return OutputJSON(map[string]interface{}{
		"status":     "success",
		"user_count": len(users),
		"users":      users,
	})
}
