package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MergeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_merge_ops_total",
		Help: "Reconciler merge invocations by source (initial, backward, push).",
	}, []string{"source"})

	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_dedup_hits_total",
		Help: "Incoming messages that replaced an already-loaded id.",
	})

	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_dropped_events_total",
		Help: "Push events dropped by reason (malformed, stale, unknown).",
	}, []string{"reason"})

	ChannelErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_channel_errors_total",
		Help: "Subscription channels that transitioned to error.",
	})

	Resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_resubscribes_total",
		Help: "Backoff-driven resubscribe attempts after a channel error.",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_active_subscriptions",
		Help: "Live subscription handles.",
	})
)

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
