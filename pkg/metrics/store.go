package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ReaderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftlite_reader_requests_total",
			Help: "Total requests served by reader actors",
		},
		[]string{"kind"}, // entries, vote, state
	)

	ReaderMappings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftlite_reader_mappings",
		Help: "Read-only segment mappings held by all readers",
	})

	RaftStoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftlite_raftstore_operations_total",
			Help: "Total raft log store operations",
		},
		[]string{"operation", "result"}, // store, get, delete; success, failure
	)
)
