package wal

import "github.com/prometheus/client_golang/prometheus"

var (
	walBatchCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mudu",
			Subsystem: "wal",
			Name:      "batches_total",
			Help:      "Counter of batches written to the log.",
		})

	walBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mudu",
			Subsystem: "wal",
			Name:      "batch_bytes_total",
			Help:      "Counter of serialized batch bytes written to the log.",
		})

	walRotateCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mudu",
			Subsystem: "wal",
			Name:      "rotations_total",
			Help:      "Counter of log file rotations.",
		})

	walFsyncHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mudu",
			Subsystem: "wal",
			Name:      "fsync_duration_seconds",
			Help:      "Bucketed histogram of log fsync time (s).",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		})
)

func init() {
	prometheus.MustRegister(walBatchCounter)
	prometheus.MustRegister(walBytesCounter)
	prometheus.MustRegister(walRotateCounter)
	prometheus.MustRegister(walFsyncHistogram)
}
