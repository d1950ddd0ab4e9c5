package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
)

var relativePattern = regexp.MustCompile(`^(-?)(\d*)([hdw])$`)

var relativeUnits = map[string]time.Duration{
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ParseSinceDate parses a date string that can be in these formats:
// - Relative: "12h", "7d", "2w" (before now)
// - Absolute: "2025-12-15" (YYYY-MM-DD, UTC)
// - Anything else dateparse recognizes, such as RFC3339
//
// Returns the parsed time or an error if the format is invalid.
func ParseSinceDate(since string) (time.Time, error) {
	return parseDate(since, time.Now())
}

func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("since date cannot be empty")
	}

	// Relative format (e.g., "7d")
	if m := relativePattern.FindStringSubmatch(s); m != nil {
		if m[2] == "" {
			return time.Time{}, fmt.Errorf("invalid relative date format '%s': expected format like '7d'", s)
		}
		if m[1] == "-" {
			return time.Time{}, fmt.Errorf("duration cannot be negative: %s", s)
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative date format '%s': %w", s, err)
		}
		if m[3] == "d" {
			return now.AddDate(0, 0, -n), nil
		}
		return now.Add(-time.Duration(n) * relativeUnits[m[3]]), nil
	}

	if parsed, err := time.Parse("2006-01-02", s); err == nil {
		return parsed, nil
	}

	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format '%s': expected 'YYYY-MM-DD', RFC3339 or relative format like '7d'", s)
	}
	return parsed, nil
}
