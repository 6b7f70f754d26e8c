// Package metrics exposes Prometheus instruments for the watcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Polling metrics
	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watcher_cycles_total",
			Help: "Total number of completed polling cycles",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watcher_cycle_duration_seconds",
			Help:    "Polling cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	NewItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_new_items_total",
			Help: "Total number of new items detected",
		},
		[]string{"feed"},
	)

	NewContributorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_new_contributors_total",
			Help: "Total number of new contributors detected",
		},
		[]string{"feed"},
	)

	TrackedItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watcher_tracked_items",
			Help: "Number of items tracked this session",
		},
	)

	// Provider API metrics
	FeedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_feed_fetches_total",
			Help: "Total number of feed fetches",
		},
		[]string{"feed", "status"},
	)

	FeedFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watcher_feed_fetch_duration_seconds",
			Help:    "Feed fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"feed"},
	)

	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watcher_rate_limit_remaining",
			Help: "Requests remaining in the provider rate-limit window",
		},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_token_refreshes_total",
			Help: "Total number of access token refreshes",
		},
		[]string{"status"},
	)

	// Outbound notification metrics
	PublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject", "status"},
	)

	DigestsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_digests_sent_total",
			Help: "Total number of digest e-mails sent",
		},
		[]string{"status"},
	)

	ApplicationInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "application_info",
			Help: "Application information",
		},
		[]string{"service", "version"},
	)
)

// Init records static build information.
func Init(serviceName, version string) {
	ApplicationInfo.WithLabelValues(serviceName, version).Set(1)
}

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
