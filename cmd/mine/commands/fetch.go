package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solvaholic/channelmine/internal/aggregate"
	"github.com/solvaholic/channelmine/internal/config"
	"github.com/solvaholic/channelmine/internal/crawl"
	"github.com/solvaholic/channelmine/internal/db"
	"github.com/solvaholic/channelmine/internal/export"
	"github.com/solvaholic/channelmine/internal/normalize"
)

const metricsShutdownTimeout = 5 * time.Second

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Crawl a server and export per-user message history",
	Long: `Fetch walks the history of every selected channel from newest to oldest,
groups the messages by author and writes the results to a timestamped
directory. Unless --no-store is given the messages, raw records, user
statistics and the run summary are also kept in the local database.

Rate limits (HTTP 429) are waited out and retried; one channel's limit
pauses every channel sharing the client. A channel that fails is reported
and the crawl moves on to the next one.

Examples:
  # Crawl every text channel
  mine fetch --server 123456789012345678

  # Crawl two channels, at most 500 messages each
  mine fetch --server 123456789012345678 --channels 111,222 --max-messages 500

  # Crawl four channels at a time and expose metrics
  mine fetch --server 123456789012345678 --concurrency 4 --metrics-addr :9090`,
	RunE: runFetch,
}

var (
	fetchServer      string
	fetchChannels    []string
	fetchMaxMessages int
	fetchPageSize    int
	fetchOutputDir   string
	fetchConcurrency int
	fetchRPS         float64
	fetchNoStore     bool
	fetchMetricsAddr string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchServer, "server", "", "Server (guild) ID")
	fetchCmd.Flags().StringSliceVar(&fetchChannels, "channels", nil, "Channel IDs to crawl (default: all text channels)")
	fetchCmd.Flags().IntVar(&fetchMaxMessages, "max-messages", 0, "Maximum messages per channel (default: no limit)")
	fetchCmd.Flags().IntVar(&fetchPageSize, "page-size", 0, "Messages per request, 1-100 (default: 100)")
	fetchCmd.Flags().StringVar(&fetchOutputDir, "output-dir", "", "Export directory (default: output)")
	fetchCmd.Flags().IntVar(&fetchConcurrency, "concurrency", 0, "Channels crawled at once (default: 1)")
	fetchCmd.Flags().Float64Var(&fetchRPS, "rps", 0, "Requests per second across all channels (default: unlimited)")
	fetchCmd.Flags().BoolVar(&fetchNoStore, "no-store", false, "Skip the local database")
	fetchCmd.Flags().StringVar(&fetchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

type channelSummary struct {
	ID            string `json:"channel_id"`
	Name          string `json:"channel_name"`
	Fetched       int    `json:"fetched"`
	Yielded       int    `json:"messages"`
	Skipped       int    `json:"skipped"`
	Pages         int    `json:"pages"`
	RateLimitHits int    `json:"rate_limit_hits"`
	DurationMS    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(&config.Settings{
		ServerID:          fetchServer,
		ChannelIDs:        fetchChannels,
		MaxMessages:       fetchMaxMessages,
		PageSize:          fetchPageSize,
		OutputDir:         fetchOutputDir,
		Concurrency:       fetchConcurrency,
		RequestsPerSecond: fetchRPS,
		MetricsAddr:       fetchMetricsAddr,
	})
	if err != nil {
		return err
	}
	if err := settings.RequireCrawl(); err != nil {
		return err
	}

	ctx := cmd.Context()

	var database *db.DB
	if !fetchNoStore {
		database, err = openDB(settings)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	if settings.MetricsAddr != "" {
		go serveMetrics(ctx, settings.MetricsAddr)
	}

	client, err := newClient(settings, database)
	if err != nil {
		return err
	}

	var api crawl.API = client
	if database != nil {
		api = &rawRecorder{API: client, db: database}
	}

	crawler := crawl.NewCrawler(api, crawl.Options{
		PageSize:    settings.PageSize,
		MaxMessages: settings.MaxMessages,
		Logger:      log.Logger,
	}, settings.Concurrency)

	target, err := crawler.ResolveChannels(ctx, settings.ServerID, settings.ChannelIDs)
	if err != nil {
		return err
	}
	if len(target.Channels) == 0 {
		return fmt.Errorf("no text channels found in server %s", settings.ServerID)
	}

	log.Info().
		Str("guild_id", target.GuildID).
		Str("guild_name", target.GuildName).
		Int("channels", len(target.Channels)).
		Msg("starting crawl")

	var runID string
	if database != nil {
		if runID, err = database.StartRun(target.GuildID, target.GuildName); err != nil {
			return err
		}
	}

	report := crawler.Run(ctx, target.Channels)

	agg := aggregate.New()
	if err := agg.AddAll(slices.Values(report.Messages)); err != nil {
		return fmt.Errorf("failed to aggregate messages: %w", err)
	}
	users := agg.Finalize()

	outDir, err := export.Write(settings.OutputDir, *target, users, time.Now())
	if err != nil {
		return err
	}

	if database != nil {
		if err := storeRun(database, runID, target, report, users, outDir); err != nil {
			return err
		}
	}

	summaries := make([]channelSummary, 0, len(report.Channels))
	for _, res := range report.Channels {
		s := channelSummary{
			ID:            res.Channel.ID,
			Name:          res.Channel.Name,
			Fetched:       res.Fetched,
			Yielded:       res.Yielded,
			Skipped:       res.Skipped,
			Pages:         res.Pages,
			RateLimitHits: res.RateLimitHits,
			DurationMS:    res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			s.Error = res.Err.Error()
			log.Warn().Err(res.Err).Str("channel_id", s.ID).Str("channel_name", s.Name).Msg("channel failed")
		}
		summaries = append(summaries, s)
	}

	status := "success"
	if len(report.Failed()) > 0 {
		status = "partial"
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		status = "canceled"
	}

	return OutputJSON(map[string]interface{}{
		"status":          status,
		"run_id":          runID,
		"server_id":       target.GuildID,
		"server_name":     target.GuildName,
		"output_dir":      outDir,
		"total_messages":  report.TotalMessages(),
		"total_users":     len(users),
		"failed_channels": len(report.Failed()),
		"empty_channels":  len(report.Empty()),
		"channels":        summaries,
	})
}

// storeRun persists one crawl: channels, messages, per-channel results,
// user statistics and the run totals
func storeRun(database *db.DB, runID string, target *crawl.Target, report *crawl.Report, users map[string]*aggregate.UserAggregate, outDir string) error {
	for _, ch := range target.Channels {
		existing, err := database.GetChannel(ch.ID)
		if err != nil {
			return err
		}
		// Keep catalogue details saved by "channels --save"
		if existing == nil {
			if err := database.SaveChannel(&db.Channel{ID: ch.ID, GuildID: target.GuildID, Name: ch.Name}); err != nil {
				return err
			}
		}
	}

	if err := database.SaveMessages(report.Messages); err != nil {
		return err
	}
	for _, res := range report.Channels {
		if err := database.SaveChannelResult(runID, res); err != nil {
			return err
		}
	}
	for _, user := range aggregate.Summaries(users) {
		if err := database.SaveUserAggregate(user, runID); err != nil {
			return err
		}
	}
	return database.FinishRun(runID, report, len(users), outDir)
}

// rawRecorder keeps every raw record passing through the client
type rawRecorder struct {
	crawl.API
	db *db.DB
}

func (r *rawRecorder) ChannelMessages(ctx context.Context, channelID string, limit int, before string) ([]json.RawMessage, error) {
	page, err := r.API.ChannelMessages(ctx, channelID, limit, before)
	for _, raw := range page {
		id := normalize.RecordID(raw)
		if id == "" {
			continue
		}
		if err := r.db.SaveRawMessage(channelID, id, raw); err != nil {
			log.Warn().Err(err).Str("channel_id", channelID).Str("message_id", id).Msg("could not store raw record")
		}
	}
	return page, err
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server starting")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
