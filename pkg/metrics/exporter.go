package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/downfa11-org/raftlite/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(WalAppends, WalAppendBytes, WalAppendLatency, WalRollovers, WalSegments)
	prometheus.MustRegister(WalSyncs, WalPurgedSegments, WalTruncations, WalRepairedRecords)
	prometheus.MustRegister(ReaderRequests, ReaderMappings, RaftStoreOps)
}

func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("Failed to start metrics server: %v", err)
		}
	}()
}

// PushAppend records one append batch handled by the writer.
func PushAppend(records, bytes int, elapsed time.Duration) {
	WalAppends.Add(float64(records))
	WalAppendBytes.Add(float64(bytes))
	WalAppendLatency.Observe(elapsed.Seconds())
}

func PushSync(async bool) {
	if async {
		WalSyncs.WithLabelValues("async").Inc()
		return
	}
	WalSyncs.WithLabelValues("sync").Inc()
}

func PushStoreOp(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	RaftStoreOps.WithLabelValues(operation, result).Inc()
}
