package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(subscriptionsExpiredTotal) }

var subscriptionsExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "subscriptions_expired_total",
		Help: "Subscriptions moved to expired by the lifecycle worker.",
	},
)

func AddSubscriptionsExpired(n int64) {
	subscriptionsExpiredTotal.Add(float64(n))
}
