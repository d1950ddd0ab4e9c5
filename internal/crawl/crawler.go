package crawl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/solvaholic/channelmine/internal/discord"
	"github.com/solvaholic/channelmine/internal/normalize"
)

// UncategorizedName labels channels without a parent category
const UncategorizedName = "Uncategorized"

// API is the subset of the platform client the crawler uses
type API interface {
	Fetcher
	Guild(ctx context.Context, guildID string) (*discord.Guild, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
}

// Target is a resolved crawl target: a guild and the channels to walk
type Target struct {
	GuildID   string
	GuildName string
	Channels  []normalize.ChannelRef
}

// ChannelInfo describes one channel in the guild catalogue
type ChannelInfo struct {
	ID       string
	Name     string
	Type     discordgo.ChannelType
	Category string
	Position int
}

// Crawlable reports whether messages can be paginated from the channel
func (c ChannelInfo) Crawlable() bool {
	return isCrawlable(c.Type)
}

// TypeName returns a human-readable channel type
func (c ChannelInfo) TypeName() string {
	return channelTypeName(c.Type)
}

// Category groups catalogue entries for display
type Category struct {
	Name     string
	Channels []ChannelInfo
}

// Crawler sequences paginators over many channels
type Crawler struct {
	api         API
	opts        Options
	concurrency int
	log         zerolog.Logger
}

// NewCrawler creates a crawler. Concurrency below 2 crawls channels one at
// a time.
func NewCrawler(api API, opts Options, concurrency int) *Crawler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Crawler{
		api:         api,
		opts:        opts,
		concurrency: concurrency,
		log:         opts.Logger,
	}
}

// ResolveChannels builds the crawl target. With no ids every text and
// announcement channel is selected in catalogue order; otherwise the given
// ids are kept in the given order and ids missing from the catalogue are
// named "unknown". A failure to list channels is returned; a failure to
// fetch the guild name is only logged.
func (c *Crawler) ResolveChannels(ctx context.Context, guildID string, channelIDs []string) (*Target, error) {
	target := &Target{GuildID: guildID}

	guild, err := c.api.Guild(ctx, guildID)
	if err != nil {
		c.log.Warn().Err(err).Str("guild_id", guildID).Msg("could not fetch server name")
	} else if guild != nil {
		target.GuildName = guild.Name
	}

	channels, err := c.api.GuildChannels(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels for server %s: %w", guildID, err)
	}

	if len(channelIDs) == 0 {
		for _, ch := range channels {
			if ch != nil && isCrawlable(ch.Type) {
				target.Channels = append(target.Channels, normalize.ChannelRef{ID: ch.ID, Name: ch.Name})
			}
		}
		return target, nil
	}

	names := make(map[string]string, len(channels))
	for _, ch := range channels {
		if ch != nil && isCrawlable(ch.Type) {
			names[ch.ID] = ch.Name
		}
	}
	for _, id := range channelIDs {
		name, ok := names[id]
		if !ok {
			name = normalize.UnknownChannelName
		}
		target.Channels = append(target.Channels, normalize.ChannelRef{ID: id, Name: name})
	}
	return target, nil
}

// ListChannels returns the guild's channel catalogue grouped by category.
// Categories and the channels inside them are sorted by name.
func (c *Crawler) ListChannels(ctx context.Context, guildID string) ([]Category, error) {
	channels, err := c.api.GuildChannels(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels for server %s: %w", guildID, err)
	}
	return GroupByCategory(channels), nil
}

// GroupByCategory arranges raw channels under their parent categories.
// Category channels themselves are not listed as entries.
func GroupByCategory(channels []*discordgo.Channel) []Category {
	categoryNames := make(map[string]string)
	for _, ch := range channels {
		if ch != nil && ch.Type == discordgo.ChannelTypeGuildCategory {
			categoryNames[ch.ID] = ch.Name
		}
	}

	grouped := make(map[string][]ChannelInfo)
	for _, ch := range channels {
		if ch == nil || ch.Type == discordgo.ChannelTypeGuildCategory {
			continue
		}
		category, ok := categoryNames[ch.ParentID]
		if !ok {
			category = UncategorizedName
		}
		grouped[category] = append(grouped[category], ChannelInfo{
			ID:       ch.ID,
			Name:     ch.Name,
			Type:     ch.Type,
			Category: category,
			Position: ch.Position,
		})
	}

	result := make([]Category, 0, len(grouped))
	for name, infos := range grouped {
		sort.SliceStable(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
		result = append(result, Category{Name: name, Channels: infos})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Report is the outcome of a crawl over many channels
type Report struct {
	Messages []*normalize.Message
	Channels []ChannelResult
}

// TotalMessages returns the number of messages collected
func (r *Report) TotalMessages() int {
	return len(r.Messages)
}

// Failed returns the channels that ended with an error
func (r *Report) Failed() []ChannelResult {
	var failed []ChannelResult
	for _, ch := range r.Channels {
		if ch.Err != nil {
			failed = append(failed, ch)
		}
	}
	return failed
}

// Empty returns the channels that completed without yielding a message
func (r *Report) Empty() []ChannelResult {
	var empty []ChannelResult
	for _, ch := range r.Channels {
		if ch.Err == nil && ch.Yielded == 0 {
			empty = append(empty, ch)
		}
	}
	return empty
}

// Run crawls every channel and concatenates the messages in channel input
// order. Channel errors are recorded on the report and never stop other
// channels. Messages gathered before a cancellation are kept.
func (c *Crawler) Run(ctx context.Context, channels []normalize.ChannelRef) *Report {
	type outcome struct {
		messages []*normalize.Message
		result   ChannelResult
	}
	outcomes := make([]outcome, len(channels))

	crawlOne := func(i int) {
		ch := channels[i]
		log := c.log.With().Str("channel_id", ch.ID).Str("channel_name", ch.Name).Logger()
		log.Info().Int("index", i+1).Int("of", len(channels)).Msg("processing channel")

		p := NewPaginator(c.api, ch, c.opts)
		var msgs []*normalize.Message
		for msg, err := range p.Messages(ctx) {
			if err != nil {
				log.Error().Err(err).Msg("channel crawl stopped")
				break
			}
			msgs = append(msgs, msg)
		}

		res := p.Result()
		log.Info().
			Int("fetched", res.Fetched).
			Int("yielded", res.Yielded).
			Int("skipped", res.Skipped).
			Int("pages", res.Pages).
			Dur("duration", res.Duration.Round(time.Millisecond)).
			Msg("channel complete")
		outcomes[i] = outcome{messages: msgs, result: res}
	}

	if c.concurrency <= 1 {
		for i := range channels {
			crawlOne(i)
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < min(c.concurrency, len(channels)); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					crawlOne(i)
				}
			}()
		}
		for i := range channels {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	report := &Report{Channels: make([]ChannelResult, 0, len(channels))}
	for _, o := range outcomes {
		report.Messages = append(report.Messages, o.messages...)
		report.Channels = append(report.Channels, o.result)
	}
	return report
}

func isCrawlable(t discordgo.ChannelType) bool {
	return t == discordgo.ChannelTypeGuildText || t == discordgo.ChannelTypeGuildNews
}

func channelTypeName(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return "Text"
	case discordgo.ChannelTypeGuildVoice:
		return "Voice"
	case discordgo.ChannelTypeGuildCategory:
		return "Category"
	case discordgo.ChannelTypeGuildNews:
		return "Announcement"
	case discordgo.ChannelTypeGuildStageVoice:
		return "Stage"
	case discordgo.ChannelTypeGuildForum:
		return "Forum"
	default:
		return "Unknown"
	}
}
