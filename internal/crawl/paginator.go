package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/solvaholic/channelmine/internal/discord"
	"github.com/solvaholic/channelmine/internal/normalize"
)

const (
	// DefaultPageSize is the page size used when none is configured
	DefaultPageSize = discord.MaxPageSize

	// DefaultJitter is added to every server-requested rate-limit delay
	DefaultJitter = 500 * time.Millisecond

	// DefaultTransportRetries bounds retries of connection-level failures
	DefaultTransportRetries = 5
)

// ErrCursorStalled is returned when a page cannot move the cursor, either
// because its oldest record has no id or because the id did not change
var ErrCursorStalled = errors.New("pagination cursor cannot advance")

// Fetcher requests one page of raw records older than before.
// *discord.Client satisfies it.
type Fetcher interface {
	ChannelMessages(ctx context.Context, channelID string, limit int, before string) ([]json.RawMessage, error)
}

// Options tunes a Paginator. Zero values select the defaults.
type Options struct {
	PageSize         int
	MaxMessages      int
	Jitter           time.Duration
	TransportRetries uint64
	Sleep            func(ctx context.Context, d time.Duration) error
	NewBackOff       func() backoff.BackOff
	Logger           zerolog.Logger
}

func (o Options) withDefaults() Options {
	o.PageSize = ClampPageSize(o.PageSize)
	if o.MaxMessages < 0 {
		o.MaxMessages = 0
	}
	if o.Jitter <= 0 {
		o.Jitter = DefaultJitter
	}
	if o.TransportRetries == 0 {
		o.TransportRetries = DefaultTransportRetries
	}
	if o.Sleep == nil {
		o.Sleep = discord.SleepContext
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return o
}

// ClampPageSize forces n into 1..MaxPageSize, mapping 0 to the default
func ClampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > discord.MaxPageSize:
		return discord.MaxPageSize
	default:
		return n
	}
}

// ChannelResult summarizes the crawl of one channel
type ChannelResult struct {
	Channel       normalize.ChannelRef
	Fetched       int
	Yielded       int
	Skipped       int
	Pages         int
	RateLimitHits int
	Duration      time.Duration
	Err           error
}

// Paginator walks one channel's history from newest to oldest
type Paginator struct {
	fetcher Fetcher
	channel normalize.ChannelRef
	opts    Options
	log     zerolog.Logger
	result  ChannelResult
}

// NewPaginator creates a paginator for a channel
func NewPaginator(fetcher Fetcher, channel normalize.ChannelRef, opts Options) *Paginator {
	opts = opts.withDefaults()
	return &Paginator{
		fetcher: fetcher,
		channel: channel,
		opts:    opts,
		log: opts.Logger.With().
			Str("channel_id", channel.ID).
			Str("channel_name", channel.Name).
			Logger(),
		result: ChannelResult{Channel: channel},
	}
}

// Result returns the counters gathered so far. It is complete once the
// sequence returned by Messages has been fully consumed.
func (p *Paginator) Result() ChannelResult {
	return p.result
}

// Messages returns the channel's messages newest first. The sequence ends
// after a short or empty page, once MaxMessages records have been fetched,
// or after yielding a single channel-fatal error. Records that fail to
// normalize are skipped and counted.
func (p *Paginator) Messages(ctx context.Context) iter.Seq2[*normalize.Message, error] {
	return func(yield func(*normalize.Message, error) bool) {
		start := time.Now()
		defer func() { p.result.Duration = time.Since(start) }()

		before := ""
		for {
			limit := p.opts.PageSize
			if p.opts.MaxMessages > 0 {
				remaining := p.opts.MaxMessages - p.result.Fetched
				if remaining <= 0 {
					return
				}
				limit = min(limit, remaining)
			}

			page, err := p.fetchPage(ctx, limit, before)
			if err != nil {
				p.fail(err)
				yield(nil, err)
				return
			}

			p.result.Pages++
			PagesTotal.Inc()
			if len(page) == 0 {
				return
			}
			p.result.Fetched += len(page)

			for _, raw := range page {
				msg, err := normalize.FromDiscord(raw, p.channel)
				if err != nil {
					p.result.Skipped++
					SkippedTotal.Inc()
					p.log.Debug().Err(err).Msg("skipping record")
					continue
				}
				p.result.Yielded++
				MessagesTotal.Inc()
				if !yield(msg, nil) {
					return
				}
			}

			p.log.Debug().
				Str("before", before).
				Int("limit", limit).
				Int("fetched", p.result.Fetched).
				Int("skipped", p.result.Skipped).
				Msg("page consumed")

			if len(page) < limit {
				return
			}
			if p.opts.MaxMessages > 0 && p.result.Fetched >= p.opts.MaxMessages {
				return
			}

			next := normalize.RecordID(page[len(page)-1])
			if next == "" || next == before {
				err := fmt.Errorf("%w: channel %s after %q", ErrCursorStalled, p.channel.ID, before)
				p.fail(err)
				yield(nil, err)
				return
			}
			before = next
		}
	}
}

// fetchPage requests a single page, waiting out every 429 and retrying
// transport failures with exponential backoff
func (p *Paginator) fetchPage(ctx context.Context, limit int, before string) ([]json.RawMessage, error) {
	for {
		var page []json.RawMessage
		op := func() error {
			var err error
			page, err = p.fetcher.ChannelMessages(ctx, p.channel.ID, limit, before)
			if err == nil || isTransient(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}

		b := backoff.WithContext(backoff.WithMaxRetries(p.opts.NewBackOff(), p.opts.TransportRetries), ctx)
		err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
			p.log.Warn().Err(err).Dur("wait", wait).Msg("transport error, retrying")
		})
		if err == nil {
			return page, nil
		}

		var rl *discord.RateLimitError
		if !errors.As(err, &rl) {
			return nil, err
		}

		p.result.RateLimitHits++
		RateLimitsTotal.WithLabelValues(rateLimitScope(rl.Global)).Inc()
		wait := rl.RetryAfter + p.opts.Jitter
		p.log.Info().
			Str("before", before).
			Dur("retry_after", rl.RetryAfter).
			Dur("wait", wait).
			Msg("rate limited, waiting")
		if err := p.opts.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (p *Paginator) fail(err error) {
	p.result.Err = err
	ChannelFailuresTotal.WithLabelValues(failureReason(err)).Inc()
}

// isTransient reports whether err is a connection-level failure worth
// retrying. Rate limits are handled separately and are never transient here.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var rl *discord.RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	if errors.Is(err, discord.ErrBodyInterrupted) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func failureReason(err error) string {
	var apiErr *discord.APIError
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	case errors.Is(err, ErrCursorStalled):
		return ReasonStalled
	case errors.As(err, &apiErr), errors.Is(err, discord.ErrUnexpectedResponse):
		return ReasonAPIError
	case errors.As(err, &urlErr), errors.Is(err, discord.ErrBodyInterrupted):
		return ReasonTransport
	default:
		return ReasonAPIError
	}
}
