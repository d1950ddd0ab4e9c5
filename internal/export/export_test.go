package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvaholic/channelmine/internal/aggregate"
	"github.com/solvaholic/channelmine/internal/crawl"
	"github.com/solvaholic/channelmine/internal/normalize"
)

var exportTime = time.Date(2024, 6, 7, 8, 9, 10, 0, time.UTC)

func msg(id, author, username, content string, offset time.Duration) *normalize.Message {
	return &normalize.Message{
		ID:        id,
		ChannelID: "500",
		Timestamp: exportTime.Add(-time.Hour + offset),
		Author: normalize.Author{
			ID:            author,
			Username:      username,
			Discriminator: "0",
			DisplayName:   username,
			FullUsername:  username,
		},
		Content: content,
	}
}

func buildUsers(t *testing.T) map[string]*aggregate.UserAggregate {
	t.Helper()
	a := aggregate.New()
	require.NoError(t, a.Add(msg("1", "11", "quiet/one", "hello there", 0)))
	require.NoError(t, a.Add(msg("2", "22", "chatty", "a b c", time.Minute)))
	require.NoError(t, a.Add(msg("3", "22", "chatty", "d", 2*time.Minute)))
	require.NoError(t, a.Add(msg("4", "22", "chatty", "", 3*time.Minute)))
	return a.Finalize()
}

func TestDirName(t *testing.T) {
	assert.Equal(t, "server_9_20240607_080910", DirName(crawl.Target{GuildID: "9"}, exportTime))
	assert.Equal(t, "MyServer_9_20240607_080910", DirName(crawl.Target{GuildID: "9", GuildName: "My Server!"}, exportTime))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "quietone", SafeName("quiet/one"))
	assert.Equal(t, "a.b_c-d", SafeName("a.b_c-d"))
	assert.Equal(t, "émile", SafeName("émile"))
}

func TestWrite(t *testing.T) {
	out := t.TempDir()
	target := crawl.Target{GuildID: "9", GuildName: "Guild"}

	dir, err := Write(out, target, buildUsers(t), exportTime)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "Guild_9_20240607_080910"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	t.Run("complete data", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, CompleteFile))
		require.NoError(t, err)

		var complete map[string]struct {
			UserInfo normalize.Author    `json:"user_info"`
			Messages []normalize.Message `json:"messages"`
			Stats    aggregate.Stats     `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(data, &complete))
		require.Len(t, complete, 2)
		assert.Equal(t, 3, complete["22"].Stats.TotalMessages)
		require.Len(t, complete["22"].Messages, 3)
		assert.Equal(t, "2", complete["22"].Messages[0].ID)
	})

	t.Run("individual files", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(dir, UsersDir))
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.ElementsMatch(t, []string{"quietone_11.json", "chatty_22.json"}, names)

		info, err := os.Stat(filepath.Join(dir, UsersDir, "chatty_22.json"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("statistics", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, StatisticsFile))
		require.NoError(t, err)
		var stats map[string]map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &stats))
		assert.Contains(t, stats["11"], "user_info")
		assert.Contains(t, stats["11"], "stats")
		assert.NotContains(t, stats["11"], "messages")
	})

	t.Run("summary csv", func(t *testing.T) {
		f, err := os.Open(filepath.Join(dir, SummaryFile))
		require.NoError(t, err)
		defer f.Close()

		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, summaryHeader, rows[0])
		assert.Equal(t, "22", rows[1][0])
		assert.Equal(t, "3", rows[1][5])
		// 6 characters over 3 messages
		assert.Equal(t, "2", rows[1][8])
		assert.Equal(t, "1.33", rows[1][9])
		assert.Equal(t, "11", rows[2][0])
		assert.Equal(t, "false", rows[2][4])
	})

	t.Run("readme", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, ReadmeFile))
		require.NoError(t, err)
		assert.Contains(t, string(data), "**Server Name:** Guild")
		assert.Contains(t, string(data), "**Total Users:** 2")
		assert.Contains(t, string(data), "**Total Messages:** 4")
		assert.Contains(t, string(data), "2024-06-07 08:09:10")
	})

	t.Run("no temp files left", func(t *testing.T) {
		matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestWriteEmpty(t *testing.T) {
	dir, err := Write(t.TempDir(), crawl.Target{GuildID: "9"}, map[string]*aggregate.UserAggregate{}, exportTime)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ReadmeFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "**Server Name:** Unknown")
}

func TestFormatAverage(t *testing.T) {
	assert.Equal(t, "0", formatAverage(0))
	assert.Equal(t, "2.5", formatAverage(2.5))
	assert.Equal(t, "3.14", formatAverage(3.14159))
}
