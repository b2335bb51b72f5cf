package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WalAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_wal_appends_total",
		Help: "Total number of log records appended to the WAL",
	})

	WalAppendBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_wal_append_bytes_total",
		Help: "Total payload bytes appended to the WAL",
	})

	WalAppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raftlite_wal_append_latency_seconds",
		Help:    "Histogram of append batch latency inside the writer",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
	})

	WalRollovers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_wal_rollovers_total",
		Help: "Total number of segment rollovers",
	})

	WalSegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftlite_wal_segments",
		Help: "Current number of WAL segments on disk",
	})

	WalSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftlite_wal_syncs_total",
			Help: "Total number of segment flushes",
		},
		[]string{"mode"}, // sync, async
	)

	WalPurgedSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_wal_purged_segments_total",
		Help: "Total number of segments removed by purges",
	})

	WalTruncations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_wal_truncations_total",
		Help: "Total number of log truncations",
	})

	WalRepairedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_wal_repaired_records_total",
		Help: "Total number of orphaned records adopted by the repair scan",
	})
)
