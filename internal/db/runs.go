package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solvaholic/channelmine/internal/crawl"
)

// Run is one fetch invocation
type Run struct {
	ID             string     `db:"id" json:"id"`
	GuildID        string     `db:"guild_id" json:"guild_id"`
	GuildName      string     `db:"guild_name" json:"guild_name"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	FinishedAt     *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	TotalMessages  int        `db:"total_messages" json:"total_messages"`
	TotalUsers     int        `db:"total_users" json:"total_users"`
	FailedChannels int        `db:"failed_channels" json:"failed_channels"`
	OutputDir      string     `db:"output_dir" json:"output_dir"`

	Channels []*ChannelResult `db:"-" json:"channels,omitempty"`
}

// ChannelResult is the stored outcome of crawling one channel in a run
type ChannelResult struct {
	RunID         string         `db:"run_id" json:"-"`
	ChannelID     string         `db:"channel_id" json:"channel_id"`
	ChannelName   string         `db:"channel_name" json:"channel_name"`
	Fetched       int            `db:"fetched" json:"fetched"`
	Yielded       int            `db:"yielded" json:"yielded"`
	Skipped       int            `db:"skipped" json:"skipped"`
	Pages         int            `db:"pages" json:"pages"`
	RateLimitHits int            `db:"rate_limit_hits" json:"rate_limit_hits"`
	DurationMS    int64          `db:"duration_ms" json:"duration_ms"`
	Error         sql.NullString `db:"error" json:"-"`
}

// StartRun records the start of a crawl and returns its id
func (db *DB) StartRun(guildID, guildName string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(`
		INSERT INTO crawl_runs (id, guild_id, guild_name, started_at)
		VALUES (?, ?, ?, ?)
	`, id, guildID, guildName, time.Now().UTC())

	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	return id, nil
}

// SaveChannelResult stores the summary of one crawled channel
func (db *DB) SaveChannelResult(runID string, res crawl.ChannelResult) error {
	var errText sql.NullString
	if res.Err != nil {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO channel_results (
			run_id, channel_id, channel_name, fetched, yielded, skipped, pages,
			rate_limit_hits, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, channel_id) DO UPDATE SET
			fetched = excluded.fetched,
			yielded = excluded.yielded,
			skipped = excluded.skipped,
			pages = excluded.pages,
			rate_limit_hits = excluded.rate_limit_hits,
			duration_ms = excluded.duration_ms,
			error = excluded.error
	`, runID, res.Channel.ID, res.Channel.Name, res.Fetched, res.Yielded, res.Skipped,
		res.Pages, res.RateLimitHits, res.Duration.Milliseconds(), errText)

	if err != nil {
		return fmt.Errorf("failed to save channel result: %w", err)
	}

	return nil
}

// FinishRun records the totals of a completed crawl
func (db *DB) FinishRun(runID string, report *crawl.Report, users int, outputDir string) error {
	_, err := db.Exec(`
		UPDATE crawl_runs
		SET finished_at = ?, total_messages = ?, total_users = ?, failed_channels = ?, output_dir = ?
		WHERE id = ?
	`, time.Now().UTC(), report.TotalMessages(), users, len(report.Failed()), outputDir, runID)

	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

// GetRun retrieves a run with its channel results, or nil when unknown
func (db *DB) GetRun(runID string) (*Run, error) {
	run := &Run{}
	err := db.Get(run, `
		SELECT id, guild_id, guild_name, started_at, finished_at,
		       total_messages, total_users, failed_channels, output_dir
		FROM crawl_runs
		WHERE id = ?
	`, runID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Channels = []*ChannelResult{}
	if err := db.Select(&run.Channels, `
		SELECT run_id, channel_id, channel_name, fetched, yielded, skipped, pages,
		       rate_limit_hits, duration_ms, error
		FROM channel_results
		WHERE run_id = ?
		ORDER BY rowid
	`, runID); err != nil {
		return nil, fmt.Errorf("failed to get channel results: %w", err)
	}

	return run, nil
}

// LatestRun returns the most recently started run, or nil when none exist
func (db *DB) LatestRun() (*Run, error) {
	var id string
	err := db.Get(&id, `SELECT id FROM crawl_runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return db.GetRun(id)
}
