package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2025, 12, 20, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		input       string
		want        time.Time
		errContains string
	}{
		{name: "relative days", input: "7d", want: now.AddDate(0, 0, -7)},
		{name: "relative one day", input: "1d", want: now.AddDate(0, 0, -1)},
		{name: "relative hours", input: "12h", want: now.Add(-12 * time.Hour)},
		{name: "relative weeks", input: "2w", want: now.Add(-14 * 24 * time.Hour)},
		{name: "absolute date", input: "2025-12-15", want: time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)},
		{name: "absolute earlier date", input: "2024-01-01", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "rfc3339", input: "2024-03-01T12:00:00Z", want: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{name: "rfc3339 with offset", input: "2024-03-01T14:00:00+02:00", want: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{name: "slash separated", input: "2025/12/15", want: time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)},
		{name: "empty string", input: "", errContains: "cannot be empty"},
		{name: "no number", input: "d", errContains: "invalid relative date format"},
		{name: "negative", input: "-7d", errContains: "cannot be negative"},
		{name: "not a date", input: "yesterday", errContains: "invalid date format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.input, now)
			if tt.errContains != "" {
				assert.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestParseSinceDateUsesNow(t *testing.T) {
	got, err := ParseSinceDate("7d")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -7), got, time.Second)
}
