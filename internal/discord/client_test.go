package discord

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithBaseURL(srv.URL)}, opts...)
	c, err := New("secret-token", opts...)
	require.NoError(t, err)
	return c
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestChannelMessagesRequest(t *testing.T) {
	var gotPath, gotAuth, gotLimit, gotBefore string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotLimit = r.URL.Query().Get("limit")
		gotBefore = r.URL.Query().Get("before")
		_, _ = w.Write([]byte(`[{"id": "2"}, {"id": "1"}]`))
	})

	page, err := c.ChannelMessages(context.Background(), "123", 50, "999")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, "/channels/123/messages", gotPath)
	assert.Equal(t, "secret-token", gotAuth)
	assert.Equal(t, "50", gotLimit)
	assert.Equal(t, "999", gotBefore)
}

func TestChannelMessagesOmitsEmptyCursor(t *testing.T) {
	hasBefore := true
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, hasBefore = r.URL.Query()["before"]
		_, _ = w.Write([]byte(`[]`))
	})

	page, err := c.ChannelMessages(context.Background(), "123", 100, "")
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.False(t, hasBefore)
}

func TestRateLimitParsing(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		body       string
		wantDelay  time.Duration
		wantGlobal bool
	}{
		{
			name:      "fractional body value",
			body:      `{"message": "You are being rate limited.", "retry_after": 1.5, "global": false}`,
			wantDelay: 1500 * time.Millisecond,
		},
		{
			name:       "global flag",
			body:       `{"retry_after": 0.25, "global": true}`,
			wantDelay:  250 * time.Millisecond,
			wantGlobal: true,
		},
		{
			name:      "header fallback",
			header:    "3",
			body:      `{"message": "slow down"}`,
			wantDelay: 3 * time.Second,
		},
		{
			name:      "default when absent",
			body:      `not json`,
			wantDelay: DefaultRetryAfter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hooked *RateLimitError
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(tt.body))
			}, WithRateLimitHook(func(rl *RateLimitError) { hooked = rl }))

			_, err := c.ChannelMessages(context.Background(), "1", 100, "")
			var rl *RateLimitError
			require.True(t, errors.As(err, &rl), "got %v", err)
			assert.Equal(t, tt.wantDelay, rl.RetryAfter)
			assert.Equal(t, tt.wantGlobal, rl.Global)
			assert.Same(t, rl, hooked)
		})
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "Missing Access", "code": 50001}`))
	})

	_, err := c.ChannelMessages(context.Background(), "1", 100, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Missing Access")
}

func TestUnexpectedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "an array"}`))
	})

	_, err := c.ChannelMessages(context.Background(), "1", 100, "")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestBodyInterrupted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()

		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 500\r\n\r\n[{\"id\": \"1\"")
		_ = buf.Flush()
	})

	_, err := c.ChannelMessages(context.Background(), "1", 100, "")
	assert.ErrorIs(t, err, ErrBodyInterrupted)
	assert.NotErrorIs(t, err, ErrUnexpectedResponse)
}

func TestRateLimitPausesLaterRequests(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var slept []time.Duration
	calls := 0

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 2}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}, WithSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	c.now = func() time.Time { return now }

	_, err := c.ChannelMessages(context.Background(), "1", 100, "")
	require.Error(t, err)

	// A request from another channel must wait out the same pause
	_, err = c.ChannelMessages(context.Background(), "2", 100, "")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestGuildMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guilds/1":
			_, _ = w.Write([]byte(`{"id": "1", "name": "Test Server"}`))
		case "/guilds/1/channels":
			_, _ = w.Write([]byte(`[
				{"id": "10", "name": "Text", "type": 4},
				{"id": "11", "name": "general", "type": 0, "parent_id": "10", "position": 1},
				{"id": "12", "name": "voice", "type": 2}
			]`))
		default:
			http.NotFound(w, r)
		}
	})

	g, err := c.Guild(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Test Server", g.Name)

	channels, err := c.GuildChannels(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, channels, 3)
	assert.Equal(t, discordgo.ChannelTypeGuildCategory, channels[0].Type)
	assert.Equal(t, "10", channels[1].ParentID)
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepContext(context.Background(), 0))
}
