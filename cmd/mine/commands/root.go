package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solvaholic/channelmine/internal/config"
	"github.com/solvaholic/channelmine/internal/db"
)

var (
	// Global flags
	outputFormat string
	dbPath       string
	logLevel     string
	configPath   string
)

// stdout is where command results go; tests swap it out
var stdout io.Writer = os.Stdout

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mine",
	Short: "Crawl and analyze Discord server history",
	Long: `ChannelMine (mine) crawls the message history of a Discord server,
groups it by author and writes per-user exports.

The tool has two main modes:
  - channels, fetch: talk to the Discord REST API
  - users, messages, stats: query what earlier fetches stored locally

Settings come from flags, then the environment (and .env), then
~/.channelmine/config, then defaults.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// ExecuteContext adds all child commands to the root command and runs it.
// Cancelling ctx stops any crawl in progress.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, jsonl)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.channelmine/channelmine.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.channelmine/config)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = config.DefaultLogLevel
	}

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	return nil
}

// loadSettings resolves flags over environment over the config file over
// defaults. flags holds only what the command's own flags set.
func loadSettings(flags *config.Settings) (*config.Settings, error) {
	loaded, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	global := &config.Settings{DBPath: dbPath, LogLevel: logLevel}
	return config.Merge(flags, global, loaded), nil
}

// openDB opens the database named by the settings
func openDB(settings *config.Settings) (*db.DB, error) {
	path := settings.DBPath
	if path == "" {
		path = db.DefaultDBPath()
	}

	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// OutputJSON writes JSON to stdout with optional pretty printing
func OutputJSON(data interface{}) error {
	var output []byte
	var err error

	if outputFormat == "json" {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	fmt.Fprintln(stdout, string(output))
	return nil
}

// OutputJSONL writes one JSON document per item
func OutputJSONL[T any](items []T) error {
	enc := json.NewEncoder(stdout)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}
	return nil
}

// OutputError writes error message to stderr
func OutputError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
