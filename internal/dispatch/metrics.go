package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaybird"

var (
	ticks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "ticks_total",
			Help:      "Dispatch trigger ticks",
		},
	)

	itemsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "items_enqueued_total",
			Help:      "Queue items created by the dispatch trigger",
		},
	)

	itemsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "items_skipped_total",
			Help:      "Dispatch pairs skipped because an item already existed",
		},
	)

	scheduleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "schedule_errors_total",
			Help:      "Per-schedule dispatch failures",
		},
		[]string{"schedule_id"},
	)
)

func recordTick() {
	ticks.Inc()
}

func recordItemEnqueued() {
	itemsEnqueued.Inc()
}

func recordItemSkipped() {
	itemsSkipped.Inc()
}

func recordScheduleError(scheduleID string) {
	scheduleErrors.WithLabelValues(scheduleID).Inc()
}
