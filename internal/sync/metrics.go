package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoolsync_ticks_total",
			Help: "Total sync ticks by outcome",
		},
		[]string{"outcome"}, // ok, error, dropped
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spoolsync_tick_duration_seconds",
			Help:    "Sync tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoolsync_items_total",
			Help: "Reconciled items by result",
		},
		[]string{"result"}, // ok, error
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoolsync_mutations_total",
			Help: "Upstream mutations by system and action",
		},
		[]string{"system", "action"},
	)
)
