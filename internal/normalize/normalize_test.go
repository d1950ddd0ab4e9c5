package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var general = ChannelRef{ID: "100", Name: "general"}

func TestFromDiscord(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "1200000000000000001",
		"channel_id": "100",
		"timestamp": "2024-03-01T12:30:45.123000+00:00",
		"edited_timestamp": "2024-03-01T12:31:00.000000+00:00",
		"author": {"id": "42", "username": "alice", "discriminator": "0", "global_name": "Alice A", "avatar": "abc"},
		"content": "see <#200> and <#300>",
		"attachments": [{"id": "9", "filename": "cat.png", "size": 1024, "url": "https://cdn/cat.png", "content_type": "image/png", "width": 64, "height": 32}],
		"embeds": [{"type": "rich", "title": "T", "fields": [{"name": "k", "value": "v", "inline": true}], "footer": {"text": "f"}, "image": {"url": "https://img"}}],
		"reactions": [{"emoji": {"id": null, "name": "👍"}, "count": 3, "me": true}],
		"mentions": [{"id": "43", "username": "bob", "discriminator": "1234"}],
		"mention_roles": ["r1"],
		"message_reference": {"message_id": "1199", "channel_id": "100", "guild_id": "1"},
		"pinned": true,
		"type": 19,
		"flags": 4
	}`)

	msg, err := FromDiscord(raw, general)
	require.NoError(t, err)

	assert.Equal(t, "1200000000000000001", msg.ID)
	assert.Equal(t, "100", msg.ChannelID)
	assert.Equal(t, "general", msg.ChannelName)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 45, 123000000, time.UTC), msg.Timestamp)
	assert.Equal(t, "2024-03-01T12:30:45.123000+00:00", msg.TimestampISO)

	assert.Equal(t, "42", msg.Author.ID)
	assert.Equal(t, "Alice A", msg.Author.DisplayName)
	assert.Equal(t, "alice", msg.Author.FullUsername)

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "cat.png", msg.Attachments[0].Filename)
	assert.Equal(t, 1024, msg.Attachments[0].Size)

	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "rich", msg.Embeds[0].Type)
	require.Len(t, msg.Embeds[0].Fields, 1)
	require.NotNil(t, msg.Embeds[0].Footer)
	require.NotNil(t, msg.Embeds[0].Image)
	assert.Nil(t, msg.Embeds[0].Author)

	require.Len(t, msg.Reactions, 1)
	assert.Equal(t, 3, msg.Reactions[0].Count)
	assert.Equal(t, "👍", msg.Reactions[0].Emoji.Name)

	require.Len(t, msg.Mentions, 1)
	assert.Equal(t, "bob", msg.Mentions[0].DisplayName)
	assert.Equal(t, "1234", msg.Mentions[0].Discriminator)

	assert.Equal(t, []string{"r1"}, msg.RoleMentions)
	assert.Equal(t, []string{"200", "300"}, msg.ChannelMentions)

	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, "1199", msg.ReplyTo.MessageID)

	require.NotNil(t, msg.EditedTimestamp)
	assert.True(t, msg.Pinned)
	assert.Equal(t, 19, msg.Type)
	assert.Equal(t, 4, msg.Flags)
}

func TestFromDiscordDefaults(t *testing.T) {
	raw := json.RawMessage(`{"id": "1", "timestamp": "2024-01-01T00:00:00Z", "author": {"id": "7", "username": "carol"}}`)

	msg, err := FromDiscord(raw, ChannelRef{ID: "100"})
	require.NoError(t, err)

	assert.Equal(t, UnknownChannelName, msg.ChannelName)
	assert.Equal(t, "", msg.Content)
	assert.Equal(t, "0", msg.Author.Discriminator)
	assert.Equal(t, "carol", msg.Author.DisplayName)
	assert.False(t, msg.Author.Bot)
	assert.NotNil(t, msg.Attachments)
	assert.Empty(t, msg.Attachments)
	assert.NotNil(t, msg.Embeds)
	assert.NotNil(t, msg.Reactions)
	assert.NotNil(t, msg.Mentions)
	assert.NotNil(t, msg.RoleMentions)
	assert.NotNil(t, msg.ChannelMentions)
	assert.Nil(t, msg.ReplyTo)
	assert.Nil(t, msg.EditedTimestamp)
	assert.False(t, msg.Pinned)
}

func TestFromDiscordFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{
			name: "missing timestamp",
			raw:  `{"id": "1", "author": {"id": "7", "username": "u"}}`,
			want: ErrMissingTimestamp,
		},
		{
			name: "malformed timestamp",
			raw:  `{"id": "1", "timestamp": "yesterday", "author": {"id": "7", "username": "u"}}`,
			want: ErrInvalidTimestamp,
		},
		{
			name: "missing id",
			raw:  `{"timestamp": "2024-01-01T00:00:00Z", "author": {"id": "7", "username": "u"}}`,
			want: ErrMissingID,
		},
		{
			name: "missing author",
			raw:  `{"id": "1", "timestamp": "2024-01-01T00:00:00Z"}`,
			want: ErrMissingAuthor,
		},
		{
			name: "not an object",
			raw:  `["nope"]`,
			want: ErrMalformedRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := FromDiscord(json.RawMessage(tt.raw), general)
			assert.Nil(t, msg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestFullUsername(t *testing.T) {
	tests := []struct {
		username      string
		discriminator string
		want          string
	}{
		{"username", "0", "username"},
		{"username", "4242", "username#4242"},
		{"username", "", "username"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FullUsername(tt.username, tt.discriminator))
	}
}

func TestParseTimestamp(t *testing.T) {
	zulu, err := ParseTimestamp("2024-05-06T07:08:09Z")
	require.NoError(t, err)
	offset, err := ParseTimestamp("2024-05-06T09:08:09+02:00")
	require.NoError(t, err)

	assert.True(t, zulu.Equal(offset))
	assert.Equal(t, time.UTC, offset.Location())
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "55", RecordID(json.RawMessage(`{"id": "55", "timestamp": 12}`)))
	assert.Equal(t, "", RecordID(json.RawMessage(`{"content": "x"}`)))
	assert.Equal(t, "", RecordID(json.RawMessage(`not json`)))
}

func TestExtractChannelMentions(t *testing.T) {
	ids := ExtractChannelMentions("go to <#111>, then <#222> and back to <#111>; ignore <@333>")
	assert.Equal(t, []string{"111", "222", "111"}, ids)
	assert.Empty(t, ExtractChannelMentions("plain text"))
}
