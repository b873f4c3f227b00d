package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Channel attempt outcomes.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_dispatch_total",
			Help: "Total number of channel delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_dispatch_duration_seconds",
			Help:    "Duration of a single channel delivery attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_notifications_total",
			Help: "Total number of dispatched notifications by final status",
		},
		[]string{"status"},
	)

	queueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_queue_size",
			Help: "Current number of notifications waiting in the dispatch queue",
		},
	)
)
