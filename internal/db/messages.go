package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solvaholic/channelmine/internal/normalize"
)

const messageColumns = `
	id, channel_id, channel_name, author_id, author, timestamp, timestamp_iso, content,
	attachments, embeds, reactions, mentions, role_mentions, channel_mentions,
	reply_to, edited_timestamp, pinned, message_type, flags
`

// messageRow is the stored shape of a normalized message
type messageRow struct {
	ID              string         `db:"id"`
	ChannelID       string         `db:"channel_id"`
	ChannelName     string         `db:"channel_name"`
	AuthorID        string         `db:"author_id"`
	Author          string         `db:"author"`
	Timestamp       time.Time      `db:"timestamp"`
	TimestampISO    string         `db:"timestamp_iso"`
	Content         string         `db:"content"`
	Attachments     string         `db:"attachments"`
	Embeds          string         `db:"embeds"`
	Reactions       string         `db:"reactions"`
	Mentions        string         `db:"mentions"`
	RoleMentions    string         `db:"role_mentions"`
	ChannelMentions string         `db:"channel_mentions"`
	ReplyTo         sql.NullString `db:"reply_to"`
	EditedTimestamp sql.NullString `db:"edited_timestamp"`
	Pinned          bool           `db:"pinned"`
	MessageType     int            `db:"message_type"`
	Flags           int            `db:"flags"`
}

type jsonField struct {
	name string
	src  interface{}
	dst  *string
}

func toRow(msg *normalize.Message) (*messageRow, error) {
	row := &messageRow{
		ID:           msg.ID,
		ChannelID:    msg.ChannelID,
		ChannelName:  msg.ChannelName,
		AuthorID:     msg.Author.ID,
		Timestamp:    msg.Timestamp.UTC(),
		TimestampISO: msg.TimestampISO,
		Content:      msg.Content,
		Pinned:       msg.Pinned,
		MessageType:  msg.Type,
		Flags:        msg.Flags,
	}

	// Encode JSON fields
	fields := []jsonField{
		{"author", msg.Author, &row.Author},
		{"attachments", nonNil(msg.Attachments), &row.Attachments},
		{"embeds", nonNil(msg.Embeds), &row.Embeds},
		{"reactions", nonNil(msg.Reactions), &row.Reactions},
		{"mentions", nonNil(msg.Mentions), &row.Mentions},
		{"role_mentions", nonNil(msg.RoleMentions), &row.RoleMentions},
		{"channel_mentions", nonNil(msg.ChannelMentions), &row.ChannelMentions},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", f.name, err)
		}
		*f.dst = string(data)
	}

	if msg.ReplyTo != nil {
		data, err := json.Marshal(msg.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal reply_to: %w", err)
		}
		row.ReplyTo = sql.NullString{String: string(data), Valid: true}
	}
	if msg.EditedTimestamp != nil {
		row.EditedTimestamp = sql.NullString{String: *msg.EditedTimestamp, Valid: true}
	}

	return row, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (row *messageRow) toMessage() (*normalize.Message, error) {
	msg := &normalize.Message{
		ID:           row.ID,
		ChannelID:    row.ChannelID,
		ChannelName:  row.ChannelName,
		Timestamp:    row.Timestamp.UTC(),
		TimestampISO: row.TimestampISO,
		Content:      row.Content,
		Pinned:       row.Pinned,
		Type:         row.MessageType,
		Flags:        row.Flags,
	}

	// Decode JSON fields
	fields := []struct {
		name string
		src  string
		dst  interface{}
	}{
		{"author", row.Author, &msg.Author},
		{"attachments", row.Attachments, &msg.Attachments},
		{"embeds", row.Embeds, &msg.Embeds},
		{"reactions", row.Reactions, &msg.Reactions},
		{"mentions", row.Mentions, &msg.Mentions},
		{"role_mentions", row.RoleMentions, &msg.RoleMentions},
		{"channel_mentions", row.ChannelMentions, &msg.ChannelMentions},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", f.name, err)
		}
	}

	if row.ReplyTo.Valid {
		msg.ReplyTo = &normalize.Reference{}
		if err := json.Unmarshal([]byte(row.ReplyTo.String), msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reply_to: %w", err)
		}
	}
	if row.EditedTimestamp.Valid {
		edited := row.EditedTimestamp.String
		msg.EditedTimestamp = &edited
	}

	return msg, nil
}

const upsertMessage = `
	INSERT INTO messages (` + messageColumns + `) VALUES (
		:id, :channel_id, :channel_name, :author_id, :author, :timestamp, :timestamp_iso, :content,
		:attachments, :embeds, :reactions, :mentions, :role_mentions, :channel_mentions,
		:reply_to, :edited_timestamp, :pinned, :message_type, :flags
	)
	ON CONFLICT(id) DO UPDATE SET
		channel_name = excluded.channel_name,
		author = excluded.author,
		content = excluded.content,
		attachments = excluded.attachments,
		embeds = excluded.embeds,
		reactions = excluded.reactions,
		mentions = excluded.mentions,
		role_mentions = excluded.role_mentions,
		channel_mentions = excluded.channel_mentions,
		reply_to = excluded.reply_to,
		edited_timestamp = excluded.edited_timestamp,
		pinned = excluded.pinned,
		flags = excluded.flags,
		stored_at = CURRENT_TIMESTAMP
`

// SaveMessage saves a normalized message, replacing any earlier copy
func (db *DB) SaveMessage(msg *normalize.Message) error {
	row, err := toRow(msg)
	if err != nil {
		return err
	}

	if _, err := db.conn.NamedExec(upsertMessage, row); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// SaveMessages saves a batch of messages in one transaction
func (db *DB) SaveMessages(msgs []*normalize.Message) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(upsertMessage)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		row, err := toRow(msg)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// SaveRawMessage stores a record exactly as the API returned it
func (db *DB) SaveRawMessage(channelID, messageID string, raw json.RawMessage) error {
	_, err := db.Exec(`
		INSERT INTO raw_messages (channel_id, message_id, raw)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id, message_id) DO UPDATE SET
			raw = excluded.raw,
			fetched_at = CURRENT_TIMESTAMP
	`, channelID, messageID, string(raw))

	if err != nil {
		return fmt.Errorf("failed to save raw message: %w", err)
	}

	return nil
}

// GetRawMessage returns a stored raw record, or nil when absent
func (db *DB) GetRawMessage(channelID, messageID string) (json.RawMessage, error) {
	var raw string
	err := db.Get(&raw, `SELECT raw FROM raw_messages WHERE channel_id = ? AND message_id = ?`, channelID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw message: %w", err)
	}
	return json.RawMessage(raw), nil
}

// GetMessage retrieves a message by ID, or nil when it is unknown
func (db *DB) GetMessage(id string) (*normalize.Message, error) {
	var row messageRow
	err := db.Get(&row, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return row.toMessage()
}

// SelectMessagesOptions defines options for selecting messages. Empty
// fields do not filter.
type SelectMessagesOptions struct {
	AuthorID   string
	ChannelID  string
	Since      *time.Time
	Until      *time.Time
	SearchText string
	Limit      int
	Offset     int
}

// SelectMessages queries messages with filters, oldest first
func (db *DB) SelectMessages(opts SelectMessagesOptions) ([]*normalize.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE 1=1"
	args := []interface{}{}

	if opts.AuthorID != "" {
		query += " AND author_id = ?"
		args = append(args, opts.AuthorID)
	}
	if opts.ChannelID != "" {
		query += " AND channel_id = ?"
		args = append(args, opts.ChannelID)
	}
	if opts.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC())
	}
	if opts.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, opts.Until.UTC())
	}
	if opts.SearchText != "" {
		query += " AND content LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(opts.SearchText)+"%")
	}

	query += " ORDER BY timestamp ASC, channel_id, id"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows := []messageRow{}
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	messages := make([]*normalize.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", rows[i].ID, err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
