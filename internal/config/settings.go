package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrMissingToken is returned when no credential is configured
	ErrMissingToken = errors.New("no token configured: set DISCORD_USER_TOKEN or discord.token")

	// ErrMissingServer is returned when no server id is configured
	ErrMissingServer = errors.New("no server configured: pass --server, set SERVER_ID or discord.server_id")
)

// Defaults
const (
	DefaultAPIBase   = "https://discord.com/api/v9"
	DefaultPageSize  = 100
	DefaultOutputDir = "output"
	DefaultLogLevel  = "info"
)

// Settings is the resolved runtime configuration. Zero values mean unset,
// which lets layers be merged field by field.
type Settings struct {
	Token             string   `env:"DISCORD_USER_TOKEN"`
	ServerID          string   `env:"SERVER_ID"`
	ChannelIDs        []string `env:"CHANNEL_IDS" envSeparator:","`
	APIBase           string   `env:"DISCORD_API_BASE"`
	LogLevel          string   `env:"LOG_LEVEL"`
	PageSize          int      `env:"PAGE_SIZE"`
	MaxMessages       int      `env:"MAX_MESSAGES"`
	OutputDir         string   `env:"OUTPUT_DIR"`
	RequestsPerSecond float64  `env:"RATE_LIMIT_RPS"`
	Concurrency       int      `env:"CONCURRENCY"`
	DBPath            string   `env:"CHANNELMINE_DB"`
	MetricsAddr       string   `env:"METRICS_ADDR"`
}

// Defaults returns the lowest-precedence layer
func Defaults() *Settings {
	return &Settings{
		APIBase:     DefaultAPIBase,
		LogLevel:    DefaultLogLevel,
		PageSize:    DefaultPageSize,
		OutputDir:   DefaultOutputDir,
		Concurrency: 1,
	}
}

// FromEnv reads the environment after loading the given dotenv files
// (".env" when none are given). Missing dotenv files are ignored and
// variables already set in the process environment are never overridden.
func FromEnv(dotenvPaths ...string) (*Settings, error) {
	if err := godotenv.Load(dotenvPaths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}
	return s, nil
}

// FromFile reads the settings stored in an ini file
func FromFile(f *File) (*Settings, error) {
	s := &Settings{
		Token:       f.GetString("discord.token"),
		ServerID:    f.GetString("discord.server_id"),
		ChannelIDs:  f.GetList("discord.channels"),
		APIBase:     f.GetString("discord.api_base"),
		LogLevel:    f.GetString("output.log_level"),
		OutputDir:   f.GetString("output.dir"),
		DBPath:      f.GetString("output.db"),
		MetricsAddr: f.GetString("output.metrics_addr"),
	}

	var err error
	if s.PageSize, err = f.GetInt("crawl.page_size"); err != nil {
		return nil, err
	}
	if s.MaxMessages, err = f.GetInt("crawl.max_messages"); err != nil {
		return nil, err
	}
	if s.Concurrency, err = f.GetInt("crawl.concurrency"); err != nil {
		return nil, err
	}
	if s.RequestsPerSecond, err = f.GetFloat("crawl.requests_per_second"); err != nil {
		return nil, err
	}
	return s, nil
}

// Load resolves environment over the ini file at path over defaults. An
// empty path selects DefaultPath.
func Load(path string) (*Settings, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fromFile, err := FromFile(file)
	if err != nil {
		return nil, err
	}

	fromEnv, err := FromEnv()
	if err != nil {
		return nil, err
	}

	return Merge(fromEnv, fromFile, Defaults()), nil
}

// Merge combines layers field by field; the first layer with a non-zero
// value wins
func Merge(layers ...*Settings) *Settings {
	out := &Settings{}
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if l == nil {
			continue
		}
		setString(&out.Token, l.Token)
		setString(&out.ServerID, l.ServerID)
		if len(l.ChannelIDs) > 0 {
			out.ChannelIDs = append([]string(nil), l.ChannelIDs...)
		}
		setString(&out.APIBase, l.APIBase)
		setString(&out.LogLevel, l.LogLevel)
		setInt(&out.PageSize, l.PageSize)
		setInt(&out.MaxMessages, l.MaxMessages)
		setString(&out.OutputDir, l.OutputDir)
		if l.RequestsPerSecond != 0 {
			out.RequestsPerSecond = l.RequestsPerSecond
		}
		setInt(&out.Concurrency, l.Concurrency)
		setString(&out.DBPath, l.DBPath)
		setString(&out.MetricsAddr, l.MetricsAddr)
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// RequireToken checks that a credential is configured
func (s *Settings) RequireToken() error {
	if s.Token == "" {
		return ErrMissingToken
	}
	return nil
}

// RequireCrawl checks the settings a crawl cannot start without
func (s *Settings) RequireCrawl() error {
	if err := s.RequireToken(); err != nil {
		return err
	}
	if s.ServerID == "" {
		return ErrMissingServer
	}
	return nil
}
