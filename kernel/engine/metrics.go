package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mudu",
			Subsystem: "engine",
			Name:      "txn_total",
			Help:      "Counter of finished transactions by outcome.",
		}, []string{"outcome"})

	conflictCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mudu",
			Subsystem: "engine",
			Name:      "write_conflict_total",
			Help:      "Counter of statements rejected by a write conflict.",
		})

	commitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mudu",
			Subsystem: "engine",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of the time spent making a commit durable.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
		})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(conflictCounter)
	prometheus.MustRegister(commitDuration)
}
