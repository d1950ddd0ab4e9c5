package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Channel failure reasons.
const (
	ReasonAPIError  = "api_error"
	ReasonStalled   = "stalled_cursor"
	ReasonTransport = "transport"
	ReasonCanceled  = "canceled"
)

var (
	// PagesTotal counts pages received, empty pages included.
	PagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channelmine_pages_total",
		Help: "Total number of message pages received",
	})

	// MessagesTotal counts normalized messages yielded to callers.
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channelmine_messages_total",
		Help: "Total number of messages normalized and yielded",
	})

	// SkippedTotal counts records dropped during normalization.
	SkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channelmine_skipped_records_total",
		Help: "Total number of raw records that failed to normalize",
	})

	// RateLimitsTotal counts 429 responses by scope.
	RateLimitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelmine_rate_limits_total",
		Help: "Total number of rate-limited responses",
	}, []string{"scope"})

	// ChannelFailuresTotal counts channels that ended with an error.
	ChannelFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelmine_channel_failures_total",
		Help: "Total number of channels whose crawl ended early",
	}, []string{"reason"})
)

func rateLimitScope(global bool) string {
	if global {
		return "global"
	}
	return "route"
}
