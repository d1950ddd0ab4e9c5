package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const SchemaVersion = 1

// DB wraps the SQLite database connection
type DB struct {
	conn *sqlx.DB
	path string
}

// Open opens or creates the channelmine database at the given path
func Open(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{
		conn: conn,
		path: dbPath,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// initSchema creates the schema if it is missing and rejects databases
// written by a newer or older layout
func (db *DB) initSchema() error {
	var currentVersion int
	err := db.conn.Get(&currentVersion, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1")

	if errors.Is(err, sql.ErrNoRows) || (err != nil && strings.Contains(err.Error(), "no such table")) {
		if _, err := db.conn.Exec(schemaSQL); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if currentVersion != SchemaVersion {
		return fmt.Errorf("schema migration needed from version %d to %d (not implemented)", currentVersion, SchemaVersion)
	}
	return nil
}

// Beginx starts a new transaction
func (db *DB) Beginx() (*sqlx.Tx, error) {
	return db.conn.Beginx()
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Get scans a single row into dest
func (db *DB) Get(dest interface{}, query string, args ...interface{}) error {
	return db.conn.Get(dest, query, args...)
}

// Select scans all rows into dest
func (db *DB) Select(dest interface{}, query string, args ...interface{}) error {
	return db.conn.Select(dest, query, args...)
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./channelmine.db"
	}
	return filepath.Join(home, ".channelmine", "channelmine.db")
}

// Stats represents database statistics
type Stats struct {
	MessageCount    int64      `json:"message_count"`
	UserCount       int64      `json:"user_count"`
	ChannelCount    int64      `json:"channel_count"`
	RunCount        int64      `json:"run_count"`
	RateLimitCount  int64      `json:"rate_limit_count"`
	EarliestMessage *time.Time `json:"earliest_message,omitempty"`
	LatestMessage   *time.Time `json:"latest_message,omitempty"`
	DatabaseSize    int64      `json:"database_size"`
}

// Stats returns database statistics
func (db *DB) Stats() (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		dest  *int64
		table string
	}{
		{&stats.MessageCount, "messages"},
		{&stats.UserCount, "user_aggregates"},
		{&stats.ChannelCount, "channels"},
		{&stats.RunCount, "crawl_runs"},
		{&stats.RateLimitCount, "rate_limit_events"},
	}
	for _, c := range counts {
		if err := db.Get(c.dest, "SELECT COUNT(*) FROM "+c.table); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	// Typed column reads keep the driver's timestamp decoding; MIN/MAX would not
	earliest, err := db.edgeTimestamp("ASC")
	if err != nil {
		return nil, err
	}
	latest, err := db.edgeTimestamp("DESC")
	if err != nil {
		return nil, err
	}
	stats.EarliestMessage, stats.LatestMessage = earliest, latest

	if info, err := os.Stat(db.path); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}

func (db *DB) edgeTimestamp(order string) (*time.Time, error) {
	var ts time.Time
	err := db.Get(&ts, "SELECT timestamp FROM messages ORDER BY timestamp "+order+" LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get date range: %w", err)
	}
	ts = ts.UTC()
	return &ts, nil
}
