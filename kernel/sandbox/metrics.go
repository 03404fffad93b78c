package sandbox

import "github.com/prometheus/client_golang/prometheus"

var (
	callCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mudu",
			Subsystem: "sandbox",
			Name:      "call_total",
			Help:      "Counter of procedure calls by outcome.",
		}, []string{"outcome"})

	hostCallCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mudu",
			Subsystem: "sandbox",
			Name:      "host_call_total",
			Help:      "Counter of host calls made by procedures.",
		}, []string{"call"})

	callDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mudu",
			Subsystem: "sandbox",
			Name:      "call_duration_seconds",
			Help:      "Bucketed histogram of procedure call time (s).",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
		})
)

func init() {
	prometheus.MustRegister(callCounter)
	prometheus.MustRegister(hostCallCounter)
	prometheus.MustRegister(callDuration)
}
