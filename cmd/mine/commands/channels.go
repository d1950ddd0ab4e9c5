package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solvaholic/channelmine/internal/config"
	"github.com/solvaholic/channelmine/internal/crawl"
	"github.com/solvaholic/channelmine/internal/db"
	"github.com/solvaholic/channelmine/internal/discord"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List a server's channels grouped by category",
	Long: `Channels lists every channel of a server under its category, marking
the ones fetch can crawl (text and announcement channels).

Examples:
  mine channels --server 123456789012345678
  mine channels --server 123456789012345678 --save`,
	RunE: runChannels,
}

var (
	channelsServer string
	channelsSave   bool
)

func init() {
	rootCmd.AddCommand(channelsCmd)

	channelsCmd.Flags().StringVar(&channelsServer, "server", "", "Server (guild) ID")
	channelsCmd.Flags().BoolVar(&channelsSave, "save", false, "Also store the catalogue in the local database")
}

type channelEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Crawlable bool   `json:"crawlable"`
}

type categoryEntry struct {
	Name     string         `json:"category"`
	Channels []channelEntry `json:"channels"`
}

func runChannels(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(&config.Settings{ServerID: channelsServer})
	if err != nil {
		return err
	}
	if err := settings.RequireCrawl(); err != nil {
		return err
	}

	client, err := newClient(settings, nil)
	if err != nil {
		return err
	}

	crawler := crawl.NewCrawler(client, crawl.Options{Logger: log.Logger}, 1)
	categories, err := crawler.ListChannels(cmd.Context(), settings.ServerID)
	if err != nil {
		return err
	}

	if channelsSave {
		if err := saveCatalogue(settings, categories); err != nil {
			return err
		}
	}

	output := make([]categoryEntry, 0, len(categories))
	crawlable := 0
	for _, cat := range categories {
		entry := categoryEntry{Name: cat.Name, Channels: make([]channelEntry, 0, len(cat.Channels))}
		for _, ch := range cat.Channels {
			entry.Channels = append(entry.Channels, channelEntry{
				ID:        ch.ID,
				Name:      ch.Name,
				Type:      ch.TypeName(),
				Crawlable: ch.Crawlable(),
			})
			if ch.Crawlable() {
				crawlable++
			}
		}
		output = append(output, entry)
	}

	if outputFormat == "jsonl" {
		return OutputJSONL(output)
	}
	return OutputJSON(map[string]interface{}{
		"status":          "success",
		"server_id":       settings.ServerID,
		"crawlable_count": crawlable,
		"categories":      output,
	})
}

func saveCatalogue(settings *config.Settings, categories []crawl.Category) error {
	database, err := openDB(settings)
	if err != nil {
		return err
	}
	defer database.Close()

	for _, cat := range categories {
		for _, ch := range cat.Channels {
			if err := database.SaveChannel(&db.Channel{
				ID:       ch.ID,
				GuildID:  settings.ServerID,
				Name:     ch.Name,
				Type:     int(ch.Type),
				Category: cat.Name,
				Position: ch.Position,
			}); err != nil {
				return fmt.Errorf("failed to store channel %s: %w", ch.ID, err)
			}
		}
	}
	return nil
}

// newClient builds an API client from the settings. When database is set
// every 429 is also recorded there.
func newClient(settings *config.Settings, database *db.DB) (*discord.Client, error) {
	opts := []discord.Option{
		discord.WithBaseURL(settings.APIBase),
		discord.WithRequestsPerSecond(settings.RequestsPerSecond),
		discord.WithLogger(log.Logger),
	}
	if database != nil {
		opts = append(opts, discord.WithRateLimitHook(func(rl *discord.RateLimitError) {
			if err := database.RecordRateLimit(rl.Route, rl.RetryAfter, rl.Global); err != nil {
				log.Warn().Err(err).Msg("could not record rate limit")
			}
		}))
	}
	return discord.New(settings.Token, opts...)
}
