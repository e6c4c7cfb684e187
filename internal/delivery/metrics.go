package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaybird"

var (
	receiptsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "receipts_total",
			Help:      "Transport receipts processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	receiptTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "receipt_timeouts_total",
			Help:      "Sends whose confirmation window elapsed without a receipt",
		},
	)
)

func recordReceipt(kind, outcome string) {
	receiptsProcessed.WithLabelValues(kind, outcome).Inc()
}

func recordReceiptTimeout() {
	receiptTimeouts.Inc()
}
