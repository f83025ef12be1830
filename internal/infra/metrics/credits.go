package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		creditsGrantedTotal,
		creditsDeductedTotal,
		creditsClawedBackTotal,
		creditsExpiredTotal,
		deductRejectedTotal,
	)
}

var (
	creditsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_credits_granted_total",
			Help: "Credits granted, by ledger transaction type.",
		},
		[]string{"type"},
	)

	creditsDeductedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_credits_deducted_total",
			Help: "Credits consumed by user operations.",
		},
		[]string{"operation"},
	)

	creditsClawedBackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_credits_clawed_back_total",
			Help: "Credits removed by refund clawbacks (applied deltas).",
		},
	)

	creditsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_credits_expired_total",
			Help: "Pay-as-you-go credits zeroed by the expiry worker.",
		},
	)

	deductRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_deduct_rejected_total",
			Help: "Deduct attempts rejected, by reason (insufficient/rate_limited).",
		},
		[]string{"reason"},
	)
)

func AddCreditsGranted(txType string, n int64) {
	if n > 0 {
		creditsGrantedTotal.WithLabelValues(norm(txType)).Add(float64(n))
	}
}

func AddCreditsDeducted(operation string, n int64) {
	if n > 0 {
		creditsDeductedTotal.WithLabelValues(norm(operation)).Add(float64(n))
	}
}

func AddCreditsClawedBack(n int64) {
	if n > 0 {
		creditsClawedBackTotal.Add(float64(n))
	}
}

func AddCreditsExpired(n int64) {
	if n > 0 {
		creditsExpiredTotal.Add(float64(n))
	}
}

func IncDeductRejected(reason string) {
	deductRejectedTotal.WithLabelValues(norm(reason)).Inc()
}
