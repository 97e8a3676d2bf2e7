package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcileOutcomesTotal,
		reconcileConflictRetries,
	)
}

var (
	reconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_outcomes_total",
			Help: "Reconciliation outcomes (settled/deferred/already_settled/skipped) by trigger source.",
		},
		[]string{"action", "source"},
	)

	reconcileConflictRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_reconcile_conflict_retries_total",
			Help: "Transaction retries caused by serialization conflicts inside reconcile.",
		},
	)
)

func IncReconcile(action, source string) {
	reconcileOutcomesTotal.WithLabelValues(norm(action), norm(source)).Inc()
}

func IncReconcileConflictRetry() {
	reconcileConflictRetries.Inc()
}
