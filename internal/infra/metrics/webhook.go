package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookDuration,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Webhook events by type and outcome (ok/duplicate/orphaned/ignored/error).",
		},
		[]string{"type", "outcome"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_webhook_duration_seconds",
			Help:    "Wall time spent handling one webhook event.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

func IncWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}

func ObserveWebhookDuration(eventType string, seconds float64) {
	webhookDuration.WithLabelValues(norm(eventType)).Observe(seconds)
}
