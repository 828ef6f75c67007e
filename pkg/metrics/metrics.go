package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts broker deliveries by event pattern and outcome (acknowledged|failed|malformed).
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_events_processed_total",
			Help: "Total number of domain events handled by the fan-out coordinator",
		},
		[]string{"pattern", "outcome"},
	)

	// NotificationsPersisted counts notification rows written per kind.
	NotificationsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_persisted_total",
			Help: "Total number of notification rows persisted",
		},
		[]string{"kind"},
	)

	// Deliveries counts live push attempts by result (delivered|offline|error).
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_deliveries_total",
			Help: "Total number of live notification push attempts",
		},
		[]string{"result"},
	)

	// ActiveConnections tracks identities with a registered live channel.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifications_active_connections",
			Help: "Number of identities with a live delivery channel",
		},
	)

	// RetentionPruned counts rows removed by the retention sweep.
	RetentionPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_retention_pruned_total",
			Help: "Total number of notifications removed by retention",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifications_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
