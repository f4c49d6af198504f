// Package metrics defines Prometheus metrics for the price history service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Resolution outcomes.
const (
	OutcomeUpdated = "updated"
	OutcomeStale   = "stale"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

var (
	// ResolutionsTotal counts single item resolutions by outcome.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricehistory_resolutions_total",
			Help: "Lowest price resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// RecomputeDuration measures how long channel recomputes take, by mode.
	RecomputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricehistory_recompute_duration_seconds",
			Help:    "Channel recompute duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// RecomputedItems counts items rewritten by channel recomputes.
	RecomputedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricehistory_recomputed_items_total",
			Help: "Items rewritten by channel recomputes",
		},
		[]string{"channel"},
	)

	// EventsTotal counts trigger events received from the listener by type.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricehistory_events_total",
			Help: "Trigger events received by type",
		},
		[]string{"type"},
	)

	// ErrorsTotal counts failures by the stage that produced them.
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricehistory_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	// ListenerConnected is 1 while the event listener holds a LISTEN connection.
	ListenerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricehistory_listener_connected",
			Help: "1 while the event listener holds a LISTEN connection",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ResolutionsTotal, RecomputeDuration, RecomputedItems,
		EventsTotal, ErrorsTotal, ListenerConnected,
	)
}
