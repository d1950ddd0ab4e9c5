package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"text/template"
	"time"

	"github.com/solvaholic/channelmine/internal/aggregate"
	"github.com/solvaholic/channelmine/internal/crawl"
)

var summaryHeader = []string{
	"user_id",
	"username",
	"display_name",
	"full_username",
	"is_bot",
	"total_messages",
	"total_characters",
	"total_words",
	"avg_message_length",
	"avg_words_per_message",
	"unique_channels",
	"attachments_sent",
	"embeds_sent",
	"reactions_received",
	"mentions_made",
	"first_message",
	"last_message",
}

// summaryCSV renders one row per user, in the order given
func summaryCSV(users []*aggregate.UserAggregate) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(summaryHeader); err != nil {
		return nil, fmt.Errorf("failed to write summary header: %w", err)
	}

	for _, agg := range users {
		info, s := agg.UserInfo, agg.Stats
		row := []string{
			info.ID,
			info.Username,
			info.DisplayName,
			info.FullUsername,
			strconv.FormatBool(info.Bot),
			strconv.Itoa(s.TotalMessages),
			strconv.Itoa(s.TotalCharacters),
			strconv.Itoa(s.TotalWords),
			formatAverage(s.AvgMessageLength),
			formatAverage(s.AvgWordsPerMessage),
			strconv.Itoa(s.UniqueChannels),
			strconv.Itoa(s.AttachmentsSent),
			strconv.Itoa(s.EmbedsSent),
			strconv.Itoa(s.ReactionsReceived),
			strconv.Itoa(s.MentionsMade),
			formatTime(s.FirstMessage),
			formatTime(s.LastMessage),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write summary row for %s: %w", info.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}
	return buf.Bytes(), nil
}

// formatAverage rounds to two decimal places
func formatAverage(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var readmeTemplate = template.Must(template.New("readme").Parse(`# Message Extraction Results

## Extraction Details
- **Server ID:** {{.ServerID}}
- **Server Name:** {{.ServerName}}
- **Extraction Date:** {{.Date}}
- **Total Users:** {{.Users}}
- **Total Messages:** {{.Messages}}

## File Structure

### ` + "`complete_user_data.json`" + `
Every user with all of their messages and statistics, keyed by user ID.

### ` + "`individual_users/`" + `
One JSON file per user, named ` + "`username_userid.json`" + `.

### ` + "`user_statistics.json`" + `
User info and statistics without message content.

### ` + "`user_summary.csv`" + `
One row per user, most active first.

## Data Structure

Each user entry contains:
- **user_info**: ID, username, display name, full username, bot flag
- **messages**: every message in chronological order
- **stats**: message, character and word counts, channels used, first and last message times
`))

type readmeData struct {
	ServerID   string
	ServerName string
	Date       string
	Users      int
	Messages   int
}

func renderReadme(target crawl.Target, users map[string]*aggregate.UserAggregate, now time.Time) ([]byte, error) {
	data := readmeData{
		ServerID:   target.GuildID,
		ServerName: target.GuildName,
		Date:       now.Format("2006-01-02 15:04:05"),
		Users:      len(users),
	}
	if data.ServerName == "" {
		data.ServerName = "Unknown"
	}
	for _, agg := range users {
		data.Messages += agg.Stats.TotalMessages
	}

	var buf bytes.Buffer
	if err := readmeTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render README: %w", err)
	}
	return buf.Bytes(), nil
}
