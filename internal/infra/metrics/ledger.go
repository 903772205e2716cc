package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(creditReservationsTotal, accountsRegisteredTotal, rateLimitTriggeredTotal) }

var (
	creditReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_reservations_total",
			Help: "Proposal credit ledger operations by result.",
		},
		[]string{"result"}, // 'reserved', 'exhausted', 'refunded'
	)

	accountsRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accounts_registered_total",
			Help: "Total number of new accounts registered.",
		},
	)

	rateLimitTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_triggered_total",
			Help: "Total number of times callers have been rate-limited, by scope.",
		},
		[]string{"scope"},
	)
)

func IncCreditReservation(result string) {
	creditReservationsTotal.WithLabelValues(norm(result)).Inc()
}

func IncAccountsRegistered() {
	accountsRegisteredTotal.Inc()
}

func IncRateLimitTriggered(scope string) {
	rateLimitTriggeredTotal.WithLabelValues(norm(scope)).Inc()
}
