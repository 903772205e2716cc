package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentNotificationsTotal,
		gatewayCallsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by status (initiated/completed/failed).",
		},
		[]string{"status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_cents_total",
			Help: "The total value of completed payments in cents, labeled by currency.",
		},
		[]string{"currency"},
	)

	// outcome: activated|renewed|failed|duplicate|ignored|signature_mismatch|unknown_status|not_found|malformed|error
	paymentNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Inbound gateway notifications by processing outcome.",
		},
		[]string{"outcome"},
	)

	// op: validate|cancel; result: ok|rejected|unavailable
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Outbound payment gateway API calls by operation and result.",
		},
		[]string{"op", "result"},
	)
)

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, cents int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(cents))
}

func IncPaymentNotification(outcome string) {
	paymentNotificationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncGatewayCall(op, result string) {
	gatewayCallsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}
