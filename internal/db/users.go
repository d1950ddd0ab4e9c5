package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solvaholic/channelmine/internal/aggregate"
)

// UserStats is the stored summary of one author
type UserStats struct {
	UserID             string     `db:"user_id" json:"user_id"`
	Username           string     `db:"username" json:"username"`
	DisplayName        string     `db:"display_name" json:"display_name"`
	FullUsername       string     `db:"full_username" json:"full_username"`
	Bot                bool       `db:"bot" json:"bot"`
	TotalMessages      int        `db:"total_messages" json:"total_messages"`
	TotalCharacters    int        `db:"total_characters" json:"total_characters"`
	TotalWords         int        `db:"total_words" json:"total_words"`
	UniqueChannels     int        `db:"unique_channels" json:"unique_channels"`
	ChannelsUsed       []string   `db:"-" json:"channels_used"`
	AttachmentsSent    int        `db:"attachments_sent" json:"attachments_sent"`
	EmbedsSent         int        `db:"embeds_sent" json:"embeds_sent"`
	ReactionsReceived  int        `db:"reactions_received" json:"reactions_received"`
	MentionsMade       int        `db:"mentions_made" json:"mentions_made"`
	FirstMessage       *time.Time `db:"first_message" json:"first_message"`
	LastMessage        *time.Time `db:"last_message" json:"last_message"`
	AvgMessageLength   float64    `db:"avg_message_length" json:"avg_message_length"`
	AvgWordsPerMessage float64    `db:"avg_words_per_message" json:"avg_words_per_message"`
	RunID              *string    `db:"run_id" json:"run_id,omitempty"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// userStatsRow adds the raw JSON column that sqlx scans into
type userStatsRow struct {
	UserStats
	ChannelsJSON string `db:"channels_used"`
}

const userStatsColumns = `
	user_id, username, display_name, full_username, bot,
	total_messages, total_characters, total_words, unique_channels, channels_used,
	attachments_sent, embeds_sent, reactions_received, mentions_made,
	first_message, last_message, avg_message_length, avg_words_per_message,
	run_id, updated_at
`

// SaveUserAggregate stores the statistics of one aggregate, replacing any
// earlier row for the same user. runID may be empty.
func (db *DB) SaveUserAggregate(agg *aggregate.UserAggregate, runID string) error {
	channels, err := json.Marshal(nonNil(agg.Stats.ChannelsUsed))
	if err != nil {
		return fmt.Errorf("failed to marshal channels_used: %w", err)
	}

	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}

	info, s := agg.UserInfo, agg.Stats
	_, err = db.Exec(`
		INSERT INTO user_aggregates (
			user_id, username, display_name, full_username, bot,
			total_messages, total_characters, total_words, unique_channels, channels_used,
			attachments_sent, embeds_sent, reactions_received, mentions_made,
			first_message, last_message, avg_message_length, avg_words_per_message, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			full_username = excluded.full_username,
			bot = excluded.bot,
			total_messages = excluded.total_messages,
			total_characters = excluded.total_characters,
			total_words = excluded.total_words,
			unique_channels = excluded.unique_channels,
			channels_used = excluded.channels_used,
			attachments_sent = excluded.attachments_sent,
			embeds_sent = excluded.embeds_sent,
			reactions_received = excluded.reactions_received,
			mentions_made = excluded.mentions_made,
			first_message = excluded.first_message,
			last_message = excluded.last_message,
			avg_message_length = excluded.avg_message_length,
			avg_words_per_message = excluded.avg_words_per_message,
			run_id = excluded.run_id,
			updated_at = CURRENT_TIMESTAMP
	`, info.ID, info.Username, info.DisplayName, info.FullUsername, info.Bot,
		s.TotalMessages, s.TotalCharacters, s.TotalWords, s.UniqueChannels, string(channels),
		s.AttachmentsSent, s.EmbedsSent, s.ReactionsReceived, s.MentionsMade,
		utcOrNil(s.FirstMessage), utcOrNil(s.LastMessage), s.AvgMessageLength, s.AvgWordsPerMessage, run)

	if err != nil {
		return fmt.Errorf("failed to save user aggregate: %w", err)
	}

	return nil
}

// GetUserStats retrieves one user's statistics, or nil when unknown
func (db *DB) GetUserStats(userID string) (*UserStats, error) {
	var row userStatsRow
	err := db.Get(&row, "SELECT "+userStatsColumns+" FROM user_aggregates WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return row.decode()
}

// ListUserStats returns stored statistics, most active first. A limit of
// zero returns every user.
func (db *DB) ListUserStats(limit int) ([]*UserStats, error) {
	query := "SELECT " + userStatsColumns + " FROM user_aggregates ORDER BY total_messages DESC, user_id"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows := []userStatsRow{}
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}

	users := make([]*UserStats, 0, len(rows))
	for i := range rows {
		u, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (row *userStatsRow) decode() (*UserStats, error) {
	u := row.UserStats
	if err := json.Unmarshal([]byte(row.ChannelsJSON), &u.ChannelsUsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels_used for %s: %w", u.UserID, err)
	}
	u.FirstMessage = utcOrNil(u.FirstMessage)
	u.LastMessage = utcOrNil(u.LastMessage)
	return &u, nil
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
