// Package metrics declares the Prometheus collectors of the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_fetches_total",
		Help: "The total number of page fetches",
	}, []string{"feed", "range", "outcome"})

	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_fetch_latency_seconds",
		Help:    "Histogram of page fetch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"feed", "range"})

	Updates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_updates_total",
		Help: "The total number of emitted update descriptors",
	}, []string{"feed", "type"})

	OverlayEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_overlay_entries",
		Help: "Number of pending local metric toggles.",
	})

	WorkingSetItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedsync_working_set_items",
		Help: "Number of rows held per feed.",
	}, []string{"feed"})

	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_poll_ticks_total",
		Help: "The total number of polling ticks",
	}, []string{"feed"})

	ItemSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_item_syncs_total",
		Help: "The total number of per-item re-syncs",
	}, []string{"outcome"})

	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_push_events_total",
		Help: "The total number of received push events",
	}, []string{"route"})

	StreamConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_stream_connects_total",
		Help: "The total number of streaming connection attempts",
	}, []string{"outcome"})

	SnapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_snapshot_writes_total",
		Help: "The total number of persisted working set snapshots",
	}, []string{"status"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_event_subscribers",
		Help: "The number of connected update stream clients",
	})

	DroppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_event_subscribers_dropped_total",
		Help: "The total number of update stream clients disconnected for falling behind",
	})
)
