package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrMissingID indicates a record without a message id
	ErrMissingID = errors.New("message has no id")

	// ErrMissingAuthor indicates a record without an author id
	ErrMissingAuthor = errors.New("message has no author")

	// ErrMissingTimestamp indicates a record without a timestamp
	ErrMissingTimestamp = errors.New("message has no timestamp")

	// ErrInvalidTimestamp indicates a timestamp that could not be parsed
	ErrInvalidTimestamp = errors.New("invalid message timestamp")

	// ErrMalformedRecord indicates a record that is not a JSON object of the expected shape
	ErrMalformedRecord = errors.New("malformed message record")
)

// DefaultDiscriminator is what the platform reports for accounts migrated to
// unique usernames
const DefaultDiscriminator = "0"

// DiscordMessage is the raw message record returned by
// GET /channels/{id}/messages. Every field is optional on the wire.
type DiscordMessage struct {
	ID               string                         `json:"id"`
	ChannelID        string                         `json:"channel_id"`
	Timestamp        string                         `json:"timestamp"`
	EditedTimestamp  *string                        `json:"edited_timestamp"`
	Author           *discordgo.User                `json:"author"`
	Content          string                         `json:"content"`
	Attachments      []*discordgo.MessageAttachment `json:"attachments"`
	Embeds           []*discordgo.MessageEmbed      `json:"embeds"`
	Reactions        []*discordgo.MessageReactions  `json:"reactions"`
	Mentions         []*discordgo.User              `json:"mentions"`
	MentionRoles     []string                       `json:"mention_roles"`
	MessageReference *discordgo.MessageReference    `json:"message_reference"`
	Pinned           bool                           `json:"pinned"`
	Type             int                            `json:"type"`
	Flags            int                            `json:"flags"`
}

// RecordID extracts only the id of a raw record. It is used to advance the
// pagination cursor even when the rest of the record fails to normalize.
func RecordID(raw json.RawMessage) string {
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ""
	}
	return rec.ID
}

// FromDiscord decodes one raw record and converts it to a Message
func FromDiscord(raw json.RawMessage, channel ChannelRef) (*Message, error) {
	var msg DiscordMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return DiscordToNormalized(&msg, channel)
}

// DiscordToNormalized converts a decoded Discord message to the canonical
// schema. Absent collections become empty slices; absent scalars keep their
// zero values. The timestamp is never fabricated.
func DiscordToNormalized(msg *DiscordMessage, channel ChannelRef) (*Message, error) {
	if msg.ID == "" {
		return nil, ErrMissingID
	}
	if msg.Author == nil || msg.Author.ID == "" {
		return nil, fmt.Errorf("%w: message %s", ErrMissingAuthor, msg.ID)
	}

	ts, err := ParseTimestamp(msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", msg.ID, err)
	}

	channelName := channel.Name
	if channelName == "" {
		channelName = UnknownChannelName
	}
	channelID := channel.ID
	if channelID == "" {
		channelID = msg.ChannelID
	}

	return &Message{
		ID:              msg.ID,
		ChannelID:       channelID,
		ChannelName:     channelName,
		Timestamp:       ts,
		TimestampISO:    msg.Timestamp,
		Author:          convertAuthor(msg.Author),
		Content:         msg.Content,
		Attachments:     convertAttachments(msg.Attachments),
		Embeds:          convertEmbeds(msg.Embeds),
		Reactions:       convertReactions(msg.Reactions),
		Mentions:        convertMentions(msg.Mentions),
		RoleMentions:    copyStrings(msg.MentionRoles),
		ChannelMentions: ExtractChannelMentions(msg.Content),
		ReplyTo:         convertReference(msg.MessageReference),
		EditedTimestamp: msg.EditedTimestamp,
		Pinned:          msg.Pinned,
		Type:            msg.Type,
		Flags:           msg.Flags,
	}, nil
}

// ParseTimestamp parses an ISO-8601 timestamp as sent by the platform, either
// "Z"-suffixed or with an explicit offset, and returns it in UTC
func ParseTimestamp(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidTimestamp, s, err)
	}
	return t.UTC(), nil
}

// FullUsername returns username#discriminator for legacy accounts and the
// bare username otherwise
func FullUsername(username, discriminator string) string {
	if discriminator != "" && discriminator != DefaultDiscriminator {
		return username + "#" + discriminator
	}
	return username
}

func discriminatorOrDefault(d string) string {
	if d == "" {
		return DefaultDiscriminator
	}
	return d
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func convertAuthor(u *discordgo.User) Author {
	disc := discriminatorOrDefault(u.Discriminator)
	return Author{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: disc,
		DisplayName:   displayName(u),
		Bot:           u.Bot,
		Avatar:        u.Avatar,
		FullUsername:  FullUsername(u.Username, disc),
	}
}

func convertAttachments(in []*discordgo.MessageAttachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		if a == nil {
			continue
		}
		out = append(out, Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			Size:        a.Size,
			URL:         a.URL,
			ContentType: a.ContentType,
			Width:       a.Width,
			Height:      a.Height,
		})
	}
	return out
}

func convertEmbeds(in []*discordgo.MessageEmbed) []Embed {
	out := make([]Embed, 0, len(in))
	for _, e := range in {
		if e == nil {
			continue
		}
		embed := Embed{
			Type:        string(e.Type),
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       e.Color,
			Timestamp:   e.Timestamp,
		}
		for _, f := range e.Fields {
			if f == nil {
				continue
			}
			embed.Fields = append(embed.Fields, EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Author != nil {
			embed.Author = &EmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
		}
		if e.Footer != nil {
			embed.Footer = &EmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
		}
		if e.Image != nil {
			embed.Image = &EmbedMedia{URL: e.Image.URL, Width: e.Image.Width, Height: e.Image.Height}
		}
		if e.Thumbnail != nil {
			embed.Thumbnail = &EmbedMedia{URL: e.Thumbnail.URL, Width: e.Thumbnail.Width, Height: e.Thumbnail.Height}
		}
		out = append(out, embed)
	}
	return out
}

func convertReactions(in []*discordgo.MessageReactions) []Reaction {
	out := make([]Reaction, 0, len(in))
	for _, r := range in {
		if r == nil {
			continue
		}
		reaction := Reaction{Count: r.Count, Me: r.Me}
		if r.Emoji != nil {
			reaction.Emoji = Emoji{ID: r.Emoji.ID, Name: r.Emoji.Name, Animated: r.Emoji.Animated}
		}
		out = append(out, reaction)
	}
	return out
}

func convertMentions(in []*discordgo.User) []Mention {
	out := make([]Mention, 0, len(in))
	for _, u := range in {
		if u == nil {
			continue
		}
		out = append(out, Mention{
			ID:            u.ID,
			Username:      u.Username,
			Discriminator: discriminatorOrDefault(u.Discriminator),
			DisplayName:   displayName(u),
		})
	}
	return out
}

func convertReference(ref *discordgo.MessageReference) *Reference {
	if ref == nil {
		return nil
	}
	if ref.MessageID == "" && ref.ChannelID == "" && ref.GuildID == "" {
		return nil
	}
	return &Reference{
		MessageID: ref.MessageID,
		ChannelID: ref.ChannelID,
		GuildID:   ref.GuildID,
	}
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
