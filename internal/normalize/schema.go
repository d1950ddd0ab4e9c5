package normalize

import "time"

// Message is the canonical form of one chat message, produced once by
// FromDiscord and never modified afterwards.
type Message struct {
	ID          string `json:"message_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`

	// Timestamp is always UTC. TimestampISO keeps the text the platform sent.
	Timestamp    time.Time `json:"timestamp"`
	TimestampISO string    `json:"timestamp_iso"`

	Author  Author `json:"author"`
	Content string `json:"content"`

	Attachments     []Attachment `json:"attachments"`
	Embeds          []Embed      `json:"embeds"`
	Reactions       []Reaction   `json:"reactions"`
	Mentions        []Mention    `json:"mentions"`
	RoleMentions    []string     `json:"role_mentions"`
	ChannelMentions []string     `json:"channel_mentions"`

	ReplyTo *Reference `json:"reply_to"`

	// Platform metadata, passed through unmodified
	EditedTimestamp *string `json:"edited_timestamp"`
	Pinned          bool    `json:"pinned"`
	Type            int     `json:"message_type"`
	Flags           int     `json:"flags"`
}

// Author identifies who wrote a message
type Author struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	DisplayName   string `json:"display_name"`
	Bot           bool   `json:"bot"`
	Avatar        string `json:"avatar,omitempty"`
	FullUsername  string `json:"full_username"`
}

// Attachment represents an uploaded file
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Embed represents rich content attached to a message
type Embed struct {
	Type        string       `json:"type"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
}

// EmbedField is one name/value pair of an embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedAuthor credits an embed
type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedFooter is the small text under an embed
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedMedia is an embed image or thumbnail
type EmbedMedia struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Reaction is an emoji tally on a message
type Reaction struct {
	Emoji Emoji `json:"emoji"`
	Count int   `json:"count"`
	Me    bool  `json:"me"`
}

// Emoji identifies a unicode or custom emoji. ID is empty for unicode emoji.
type Emoji struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Animated bool   `json:"animated,omitempty"`
}

// Mention is a user mentioned by a message
type Mention struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	DisplayName   string `json:"display_name"`
}

// Reference points at the message this one replies to. It is a relation
// only; the referenced message is not owned or loaded.
type Reference struct {
	MessageID string `json:"message_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

// ChannelRef names the channel a message was fetched from
type ChannelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnknownChannelName is used when channel metadata could not be resolved
const UnknownChannelName = "unknown"
