package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the REST API root
	DefaultBaseURL = "https://discord.com/api/v9"

	// MaxPageSize is the largest page the messages endpoint will return
	MaxPageSize = 100

	// DefaultRetryAfter applies when a 429 carries no usable delay
	DefaultRetryAfter = 5 * time.Second

	defaultUserAgent = "channelmine/1.0"
	defaultTimeout   = 30 * time.Second
)

// ErrMissingToken is returned when a client is built without a credential
var ErrMissingToken = errors.New("discord token is required")

// ErrUnexpectedResponse indicates a 2xx response whose body could not be decoded
var ErrUnexpectedResponse = errors.New("unexpected response body")

// ErrBodyInterrupted is returned when the connection fails while a response
// body is being read
var ErrBodyInterrupted = errors.New("response body interrupted")

// APIError is a non-2xx, non-429 response
type APIError struct {
	StatusCode int
	Route      string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord API error on %s: %d - %s", e.Route, e.StatusCode, e.Body)
}

// RateLimitError is a 429 response. RetryAfter is the delay the server
// asked for, or DefaultRetryAfter when it did not say.
type RateLimitError struct {
	Route      string
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Route, e.RetryAfter)
}

// Guild is the subset of guild metadata the crawler needs
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the REST API with a caller-supplied token. A Client is
// safe for concurrent use: every request waits on one shared limiter and on
// the pause set by the most recent 429, so all channels crawled through the
// same Client back off together.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	limiter    *rate.Limiter
	log        zerolog.Logger

	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	onRateLimit func(*RateLimitError)

	mu          sync.Mutex
	pausedUntil time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API root (tests, proxies)
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRequestsPerSecond caps the request rate shared by all callers.
// Zero or negative means unlimited.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the client logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithSleep replaces the function used to wait out a shared pause
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithRateLimitHook registers a callback invoked for every 429 observed
func WithRateLimitHook(fn func(*RateLimitError)) Option {
	return func(c *Client) { c.onRateLimit = fn }
}

// New creates a client for the given token
func New(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		token:      token,
		userAgent:  defaultUserAgent,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		log:        zerolog.Nop(),
		sleep:      SleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ChannelMessages requests one page of raw message records, newest first.
// An empty before requests the most recent page.
func (c *Client) ChannelMessages(ctx context.Context, channelID string, limit int, before string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if before != "" {
		params.Set("before", before)
	}

	var page []json.RawMessage
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.get(ctx, path, "GET /channels/:id/messages", params, &page); err != nil {
		return nil, err
	}
	return page, nil
}

// Guild fetches guild metadata
func (c *Client) Guild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	if err := c.get(ctx, "/guilds/"+url.PathEscape(guildID), "GET /guilds/:id", nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GuildChannels lists every channel of a guild, categories included
func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	var channels []*discordgo.Channel
	path := "/guilds/" + url.PathEscape(guildID) + "/channels"
	if err := c.get(ctx, path, "GET /guilds/:id/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (c *Client) get(ctx context.Context, path, route string, params url.Values, out interface{}) error {
	if err := c.waitTurn(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", route, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w on %s: %w", ErrBodyInterrupted, route, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		rl := parseRateLimit(route, resp.Header, body)
		c.pause(rl.RetryAfter)
		c.log.Warn().
			Str("route", route).
			Dur("retry_after", rl.RetryAfter).
			Bool("global", rl.Global).
			Msg("rate limited")
		if c.onRateLimit != nil {
			c.onRateLimit(rl)
		}
		return rl
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{StatusCode: resp.StatusCode, Route: route, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w from %s: %v", ErrUnexpectedResponse, route, err)
	}
	return nil
}

// waitTurn blocks until the shared pause has passed and the limiter allows
// another request
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	until := c.pausedUntil
	c.mu.Unlock()

	if d := until.Sub(c.now()); d > 0 {
		if err := c.sleep(ctx, d); err != nil {
			return err
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (c *Client) pause(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.now().Add(d)
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
}

// parseRateLimit reads retry_after from the JSON body, then the Retry-After
// header, then falls back to DefaultRetryAfter
func parseRateLimit(route string, header http.Header, body []byte) *RateLimitError {
	rl := &RateLimitError{Route: route, RetryAfter: DefaultRetryAfter}

	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
		Global     bool     `json:"global"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		rl.Global = payload.Global
		if payload.RetryAfter != nil && *payload.RetryAfter >= 0 {
			rl.RetryAfter = secondsToDuration(*payload.RetryAfter)
			return rl
		}
	}

	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			rl.RetryAfter = secondsToDuration(secs)
		}
	}
	return rl
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// SleepContext sleeps for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
