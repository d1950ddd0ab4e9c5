package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/solvaholic/channelmine/internal/aggregate"
	"github.com/solvaholic/channelmine/internal/crawl"
	"github.com/solvaholic/channelmine/internal/normalize"
)

// File names inside an extraction directory
const (
	CompleteFile   = "complete_user_data.json"
	UsersDir       = "individual_users"
	StatisticsFile = "user_statistics.json"
	SummaryFile    = "user_summary.csv"
	ReadmeFile     = "README.md"
)

// UserStatistics is one entry of user_statistics.json
type UserStatistics struct {
	UserInfo normalize.Author `json:"user_info"`
	Stats    aggregate.Stats  `json:"stats"`
}

// DirName returns the extraction directory name for a target at a moment
func DirName(target crawl.Target, now time.Time) string {
	prefix := "server_" + target.GuildID
	if name := SafeName(target.GuildName); name != "" {
		prefix = name + "_" + target.GuildID
	}
	return prefix + "_" + now.Format("20060102_150405")
}

// SafeName keeps letters, digits, dot, underscore and hyphen
func SafeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._-", r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Write saves the aggregates under a new directory in outputDir and returns
// its path
func Write(outputDir string, target crawl.Target, users map[string]*aggregate.UserAggregate, now time.Time) (string, error) {
	dir := filepath.Join(outputDir, DirName(target, now))
	usersDir := filepath.Join(dir, UsersDir)

	// Create directory with restrictive permissions
	if err := os.MkdirAll(usersDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, CompleteFile), users); err != nil {
		return "", err
	}

	for id, agg := range users {
		name := fmt.Sprintf("%s_%s.json", SafeName(agg.UserInfo.Username), id)
		if err := writeJSON(filepath.Join(usersDir, name), agg); err != nil {
			return "", err
		}
	}

	stats := make(map[string]UserStatistics, len(users))
	for id, agg := range users {
		stats[id] = UserStatistics{UserInfo: agg.UserInfo, Stats: agg.Stats}
	}
	if err := writeJSON(filepath.Join(dir, StatisticsFile), stats); err != nil {
		return "", err
	}

	summary, err := summaryCSV(aggregate.Summaries(users))
	if err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(dir, SummaryFile), summary); err != nil {
		return "", err
	}

	readme, err := renderReadme(target, users, now)
	if err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(dir, ReadmeFile), readme); err != nil {
		return "", err
	}

	return dir, nil
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, buf.Bytes())
}

// writeFile writes to a temp file first, then renames it into place
func writeFile(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
