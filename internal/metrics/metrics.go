// Package metrics exposes the indexer's Prometheus instruments. Every
// permanent rejection is observable here in addition to the log.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canva_events_accepted_total",
			Help: "Total number of pixel events accepted into the log",
		},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canva_events_rejected_total",
			Help: "Total number of pixel events permanently rejected",
		},
		[]string{"reason"}, // "bad_id", "bad_payload", "out_of_bounds", "bad_color", "future", "no_credits", "duplicate", "not_put", "bad_path"
	)

	WatcherTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canva_watcher_ticks_total",
			Help: "Total number of completed watcher poll cycles",
		},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canva_poll_errors_total",
			Help: "Total number of transient errors during polling, retried next tick",
		},
		[]string{"stage"}, // "list", "fetch", "store"
	)

	CanvasResizes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canva_canvas_resizes_total",
			Help: "Total number of canvas growth steps",
		},
	)

	CanvasSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canva_canvas_size",
			Help: "Current canvas side length",
		},
	)

	SSESubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canva_sse_subscribers",
			Help: "Current number of live SSE subscribers",
		},
	)
)
