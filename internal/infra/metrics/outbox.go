package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		outboxDispatchTotal,
		outboxQueueDepth,
	)
}

var (
	outboxDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_outbox_dispatch_total",
			Help: "Outbox task dispatches, by kind and outcome (ok/retry/parked).",
		},
		[]string{"kind", "outcome"},
	)

	outboxQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_outbox_claimed",
			Help: "Tasks claimed by the most recent worker tick.",
		},
	)
)

func IncOutboxDispatch(kind, outcome string) {
	outboxDispatchTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func SetOutboxClaimed(n int) {
	outboxQueueDepth.Set(float64(n))
}
