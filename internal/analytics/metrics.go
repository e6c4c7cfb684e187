package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reports = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "relaybird",
		Subsystem: "analytics",
		Name:      "reports_total",
		Help:      "Timing reports computed",
	},
)

func recordReport() {
	reports.Inc()
}
