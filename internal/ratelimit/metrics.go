package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaybird"

var (
	waitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for send clearance",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	waitsExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "waits_exceeded_total",
			Help:      "Clearance waits abandoned at the max-wait deadline",
		},
	)
)

func recordWait(d time.Duration) {
	waitDuration.Observe(d.Seconds())
}

func recordExceeded() {
	waitsExceeded.Inc()
}
