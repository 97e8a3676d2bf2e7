package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sweeperRunsTotal,
		sweeperRunDuration,
		paymentsExpiredTotal,
	)
}

var (
	sweeperRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sweeper_runs_total",
			Help: "Sweeper runs by result (completed/skipped/lock_lost).",
		},
		[]string{"result"},
	)

	sweeperRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_sweeper_run_seconds",
			Help:    "Duration of a reconcile sweeper run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	paymentsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_expired_total",
			Help: "Pending payments moved to expired by the time sweep.",
		},
	)
)

func IncSweeperRun(result string) {
	sweeperRunsTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveSweeperRun(seconds float64) {
	sweeperRunDuration.Observe(seconds)
}

func AddPaymentsExpired(n int64) {
	paymentsExpiredTotal.Add(float64(n))
}
