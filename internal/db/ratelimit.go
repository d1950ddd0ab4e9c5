package db

import (
	"fmt"
	"time"
)

// RateLimitEvent is one 429 response observed by the client
type RateLimitEvent struct {
	ID         int64     `db:"id"`
	Route      string    `db:"route"`
	RetryAfter int64     `db:"retry_after_ms"`
	Global     bool      `db:"global"`
	ObservedAt time.Time `db:"observed_at"`
}

// RateLimitSummary aggregates rate-limit events per route
type RateLimitSummary struct {
	Route         string  `db:"route" json:"route"`
	Hits          int64   `db:"hits" json:"hits"`
	GlobalHits    int64   `db:"global_hits" json:"global_hits"`
	TotalWaitMS   int64   `db:"total_wait_ms" json:"total_wait_ms"`
	AverageWaitMS float64 `db:"avg_wait_ms" json:"avg_wait_ms"`
}

// RecordRateLimit stores a 429 observation
func (db *DB) RecordRateLimit(route string, retryAfter time.Duration, global bool) error {
	_, err := db.Exec(`
		INSERT INTO rate_limit_events (route, retry_after_ms, global, observed_at)
		VALUES (?, ?, ?, ?)
	`, route, retryAfter.Milliseconds(), global, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to record rate limit: %w", err)
	}

	return nil
}

// RateLimitSummary returns per-route totals, busiest route first
func (db *DB) RateLimitSummary() ([]*RateLimitSummary, error) {
	summary := []*RateLimitSummary{}
	err := db.Select(&summary, `
		SELECT route,
		       COUNT(*) AS hits,
		       COALESCE(SUM(CASE WHEN global THEN 1 ELSE 0 END), 0) AS global_hits,
		       COALESCE(SUM(retry_after_ms), 0) AS total_wait_ms,
		       COALESCE(AVG(retry_after_ms), 0) AS avg_wait_ms
		FROM rate_limit_events
		GROUP BY route
		ORDER BY hits DESC, route
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize rate limits: %w", err)
	}

	return summary, nil
}
