package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaybird"

var (
	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items_processed_total",
			Help:      "Queue items processed by outcome",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "send_duration_seconds",
			Help:      "Time from claim to confirmed transport send",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	workersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "workers_running",
			Help:      "Destination workers currently active",
		},
	)

	itemsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Queue items by status",
		},
		[]string{"status"},
	)

	quietHolds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "quiet_holds_total",
			Help:      "Poll ticks skipped because a quiet period was active",
		},
	)
)

func recordItemProcessed(outcome string) {
	itemsProcessed.WithLabelValues(outcome).Inc()
}

func recordSendDuration(d time.Duration) {
	sendDuration.Observe(d.Seconds())
}

func recordWorkersRunning(n int) {
	workersRunning.Set(float64(n))
}

func recordQuietHold() {
	quietHolds.Inc()
}

// RecordStats publishes queue item counts by status.
func RecordStats(s *Stats) {
	itemsByStatus.WithLabelValues(string(StatusPending)).Set(float64(s.Pending))
	itemsByStatus.WithLabelValues(string(StatusProcessing)).Set(float64(s.Processing))
	itemsByStatus.WithLabelValues(string(StatusSent)).Set(float64(s.Sent))
	itemsByStatus.WithLabelValues(string(StatusFailed)).Set(float64(s.Failed))
	itemsByStatus.WithLabelValues(string(StatusSkipped)).Set(float64(s.Skipped))
	itemsByStatus.WithLabelValues(string(StatusPaused)).Set(float64(s.Paused))
}
