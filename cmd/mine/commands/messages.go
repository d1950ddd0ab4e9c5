package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solvaholic/channelmine/internal/config"
	"github.com/solvaholic/channelmine/internal/db"
	"github.com/solvaholic/channelmine/internal/normalize"
	"github.com/solvaholic/channelmine/internal/utils"
)

var (
	msgAuthor  string
	msgChannel string
	msgSince   string
	msgUntil   string
	msgSearch  string
	msgLimit   int
	msgOffset  int
)

// messagesCmd represents the messages command
var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Query stored messages",
	Long: `Query normalized messages saved by earlier fetches, oldest first.

Examples:
  # Messages from one author in the last week
  mine messages --author 123456789012345678 --since 7d

  # Messages mentioning a keyword, as a table
  mine messages --search "release" --format table

Output formats:
  - json: Normalized messages (default, for tools)
  - jsonl: One message per line (for streaming/piping)
  - table: Human-readable table`,
	RunE: runMessages,
}

func init() {
	rootCmd.AddCommand(messagesCmd)

	messagesCmd.Flags().StringVarP(&msgAuthor, "author", "a", "", "Filter by author ID")
	messagesCmd.Flags().StringVarP(&msgChannel, "channel", "c", "", "Filter by channel ID")
	messagesCmd.Flags().StringVarP(&msgSince, "since", "s", "", "Start date (e.g., '7d', '2025-12-15')")
	messagesCmd.Flags().StringVarP(&msgUntil, "until", "u", "", "End date (e.g., '1d', '2025-12-31T23:59:59Z')")
	messagesCmd.Flags().StringVar(&msgSearch, "search", "", "Search text in message content")
	messagesCmd.Flags().IntVar(&msgLimit, "limit", 100, "Maximum number of results (0 for all)")
	messagesCmd.Flags().IntVar(&msgOffset, "offset", 0, "Offset for pagination")
}

func runMessages(cmd *cobra.Command, args []string) error {
	opts := db.SelectMessagesOptions{
		AuthorID:   msgAuthor,
		ChannelID:  msgChannel,
		SearchText: msgSearch,
		Limit:      msgLimit,
		Offset:     msgOffset,
	}

	// Parse date filters using shared utility
	if msgSince != "" {
		since, err := utils.ParseSinceDate(msgSince)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		opts.Since = &since
	}
	if msgUntil != "" {
		until, err := utils.ParseSinceDate(msgUntil)
		if err != nil {
			return fmt.Errorf("invalid --until value: %w", err)
		}
		opts.Until = &until
	}

	settings, err := loadSettings(&config.Settings{})
	if err != nil {
		return err
	}

	database, err := openDB(settings)
	if err != nil {
		return err
	}
	defer database.Close()

	messages, err := database.SelectMessages(opts)
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		return OutputJSON(map[string]interface{}{
			"status":        "success",
			"message_count": len(messages),
			"filters": map[string]interface{}{
				"author":  msgAuthor,
				"channel": msgChannel,
				"since":   msgSince,
				"until":   msgUntil,
				"search":  msgSearch,
			},
			"messages": messages,
		})
	case "jsonl":
		return OutputJSONL(messages)
	case "table":
		return outputTable(messages)
	default:
		return fmt.Errorf("unknown format: %s", outputFormat)
	}
}

func outputTable(messages []*normalize.Message) error {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "TIMESTAMP\tAUTHOR\tCHANNEL\tCONTENT\n")
	fmt.Fprintf(w, "---------\t------\t-------\t-------\n")

	for _, msg := range messages {
		author := msg.Author.DisplayName
		if author == "" {
			author = msg.Author.ID
		}
		channel := msg.ChannelName
		if channel == "" {
			channel = msg.ChannelID
		}

		fmt.Fprintf(w, "%s\t%s\t#%s\t%s\n",
			msg.Timestamp.Format("2006-01-02 15:04"),
			author,
			channel,
			truncate(msg.Content, 60),
		)
	}

	return nil
}

// truncate shortens s to at most n runes on one line
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
