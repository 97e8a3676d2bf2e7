package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		gatewayCallsTotal,
		gatewayRetriesTotal,
		gatewayCallLatency,
	)
}

var (
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Gateway API calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	gatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_retries_total",
			Help: "Retries of gateway calls after retryable failures.",
		},
		[]string{"op"},
	)

	gatewayCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_call_seconds",
			Help:    "Gateway call latency distribution.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)
)

func IncGatewayCall(op, outcome string) {
	gatewayCallsTotal.WithLabelValues(norm(op), norm(outcome)).Inc()
}

func IncGatewayRetry(op string) {
	gatewayRetriesTotal.WithLabelValues(norm(op)).Inc()
}

func ObserveGatewayCall(op string, seconds float64) {
	gatewayCallLatency.WithLabelValues(norm(op)).Observe(seconds)
}
