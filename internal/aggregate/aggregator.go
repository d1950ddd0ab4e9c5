package aggregate

import (
	"cmp"
	"errors"
	"iter"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/solvaholic/channelmine/internal/normalize"
)

var (
	// ErrFinalized is returned by Add once Finalize has been called
	ErrFinalized = errors.New("aggregator already finalized")

	// ErrNilMessage is returned when Add receives a nil message
	ErrNilMessage = errors.New("nil message")
)

// Stats holds per-user activity counters
type Stats struct {
	TotalMessages      int        `json:"total_messages"`
	TotalCharacters    int        `json:"total_characters"`
	TotalWords         int        `json:"total_words"`
	ChannelsUsed       []string   `json:"channels_used"`
	UniqueChannels     int        `json:"unique_channels"`
	AttachmentsSent    int        `json:"attachments_sent"`
	EmbedsSent         int        `json:"embeds_sent"`
	ReactionsReceived  int        `json:"reactions_received"`
	MentionsMade       int        `json:"mentions_made"`
	FirstMessage       *time.Time `json:"first_message"`
	LastMessage        *time.Time `json:"last_message"`
	AvgMessageLength   float64    `json:"avg_message_length"`
	AvgWordsPerMessage float64    `json:"avg_words_per_message"`
}

// UserAggregate is everything collected for one author
type UserAggregate struct {
	UserInfo normalize.Author     `json:"user_info"`
	Messages []*normalize.Message `json:"messages"`
	Stats    Stats                `json:"stats"`

	channels map[string]struct{}
}

// Aggregator folds a message stream into per-author aggregates. It is not
// safe for concurrent use; each crawl owns its own instance.
type Aggregator struct {
	users     map[string]*UserAggregate
	finalized bool
}

// New creates an empty aggregator
func New() *Aggregator {
	return &Aggregator{users: make(map[string]*UserAggregate)}
}

// Add folds one message into its author's aggregate. The first message seen
// for an author fixes the aggregate's user info.
func (a *Aggregator) Add(msg *normalize.Message) error {
	if a.finalized {
		return ErrFinalized
	}
	if msg == nil {
		return ErrNilMessage
	}

	agg, ok := a.users[msg.Author.ID]
	if !ok {
		agg = &UserAggregate{
			UserInfo: msg.Author,
			channels: make(map[string]struct{}),
		}
		a.users[msg.Author.ID] = agg
	}

	agg.Messages = append(agg.Messages, msg)

	s := &agg.Stats
	s.TotalMessages++
	s.TotalCharacters += utf8.RuneCountInString(msg.Content)
	s.TotalWords += len(strings.Fields(msg.Content))
	agg.channels[msg.ChannelID] = struct{}{}
	s.AttachmentsSent += len(msg.Attachments)
	s.EmbedsSent += len(msg.Embeds)
	for _, r := range msg.Reactions {
		s.ReactionsReceived += r.Count
	}
	s.MentionsMade += len(msg.Mentions)

	ts := msg.Timestamp
	if s.FirstMessage == nil || ts.Before(*s.FirstMessage) {
		s.FirstMessage = &ts
	}
	if s.LastMessage == nil || ts.After(*s.LastMessage) {
		last := ts
		s.LastMessage = &last
	}
	return nil
}

// AddAll folds every message of seq, stopping at the first error
func (a *Aggregator) AddAll(seq iter.Seq[*normalize.Message]) error {
	for msg := range seq {
		if err := a.Add(msg); err != nil {
			return err
		}
	}
	return nil
}

// Finalize sorts each author's messages chronologically, derives the
// channel set and averages, and returns the aggregates keyed by author id.
// Later calls return the same map.
func (a *Aggregator) Finalize() map[string]*UserAggregate {
	if a.finalized {
		return a.users
	}
	a.finalized = true

	for _, agg := range a.users {
		slices.SortStableFunc(agg.Messages, compareMessages)

		s := &agg.Stats
		s.ChannelsUsed = make([]string, 0, len(agg.channels))
		for id := range agg.channels {
			s.ChannelsUsed = append(s.ChannelsUsed, id)
		}
		slices.SortFunc(s.ChannelsUsed, compareIDs)
		s.UniqueChannels = len(s.ChannelsUsed)

		if s.TotalMessages > 0 {
			s.AvgMessageLength = float64(s.TotalCharacters) / float64(s.TotalMessages)
			s.AvgWordsPerMessage = float64(s.TotalWords) / float64(s.TotalMessages)
		}
		agg.channels = nil
	}
	return a.users
}

// ContentList returns the author's non-blank message contents, trimmed, in
// chronological order
func ContentList(agg *UserAggregate) []string {
	contents := make([]string, 0, len(agg.Messages))
	for _, msg := range agg.Messages {
		if c := strings.TrimSpace(msg.Content); c != "" {
			contents = append(contents, c)
		}
	}
	return contents
}

// Summaries orders aggregates by message count, most active first, with
// ties broken by author id
func Summaries(users map[string]*UserAggregate) []*UserAggregate {
	out := make([]*UserAggregate, 0, len(users))
	for _, agg := range users {
		out = append(out, agg)
	}
	slices.SortFunc(out, func(x, y *UserAggregate) int {
		if c := cmp.Compare(y.Stats.TotalMessages, x.Stats.TotalMessages); c != 0 {
			return c
		}
		return compareIDs(x.UserInfo.ID, y.UserInfo.ID)
	})
	return out
}

func compareMessages(x, y *normalize.Message) int {
	if c := x.Timestamp.Compare(y.Timestamp); c != 0 {
		return c
	}
	if c := compareIDs(x.ChannelID, y.ChannelID); c != 0 {
		return c
	}
	return compareIDs(x.ID, y.ID)
}

// compareIDs orders snowflakes numerically. Decimal ids without leading
// zeros sort numerically when compared by length first.
func compareIDs(x, y string) int {
	if c := cmp.Compare(len(x), len(y)); c != 0 {
		return c
	}
	return strings.Compare(x, y)
}
