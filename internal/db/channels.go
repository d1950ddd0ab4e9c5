package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Channel represents a guild channel in the database
type Channel struct {
	ID        string    `db:"id"`
	GuildID   string    `db:"guild_id"`
	Name      string    `db:"name"`
	Type      int       `db:"type"`
	Category  string    `db:"category"`
	Position  int       `db:"position"`
	FetchedAt time.Time `db:"fetched_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SaveChannel saves or updates a channel
func (db *DB) SaveChannel(channel *Channel) error {
	_, err := db.Exec(`
		INSERT INTO channels (id, guild_id, name, type, category, position)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			guild_id = excluded.guild_id,
			name = excluded.name,
			type = excluded.type,
			category = excluded.category,
			position = excluded.position,
			updated_at = CURRENT_TIMESTAMP
	`, channel.ID, channel.GuildID, channel.Name, channel.Type, channel.Category, channel.Position)

	if err != nil {
		return fmt.Errorf("failed to save channel: %w", err)
	}

	return nil
}

// GetChannel retrieves a channel by ID, or nil when it is unknown
func (db *DB) GetChannel(id string) (*Channel, error) {
	channel := &Channel{}

	err := db.Get(channel, `
		SELECT id, guild_id, name, type, category, position, fetched_at, updated_at
		FROM channels
		WHERE id = ?
	`, id)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return channel, nil
}

// ListChannels returns the stored channels of a guild ordered by category
// and name. An empty guildID lists every guild.
func (db *DB) ListChannels(guildID string) ([]*Channel, error) {
	query := `
		SELECT id, guild_id, name, type, category, position, fetched_at, updated_at
		FROM channels
	`
	args := []interface{}{}
	if guildID != "" {
		query += " WHERE guild_id = ?"
		args = append(args, guildID)
	}
	query += " ORDER BY category, name"

	channels := []*Channel{}
	if err := db.Select(&channels, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}

	return channels, nil
}
