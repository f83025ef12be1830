package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		commissionsTotal,
		payoutsTotal,
		payoutAmountTotal,
	)
}

var (
	commissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_commissions_total",
			Help: "Commission entries recorded, by kind.",
		},
		[]string{"kind"},
	)

	payoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_payouts_total",
			Help: "Payouts created, by status transition.",
		},
		[]string{"status"},
	)

	payoutAmountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "affiliate_payout_amount_dollars_total",
			Help: "Total dollars rolled into payouts.",
		},
	)
)

func IncCommission(kind string) {
	commissionsTotal.WithLabelValues(norm(kind)).Inc()
}

func IncPayout(status string) {
	payoutsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPayoutAmount(dollars float64) {
	if dollars > 0 {
		payoutAmountTotal.Add(dollars)
	}
}
