package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/downfa11-org/raftlite/pkg/bench"
	"github.com/downfa11-org/raftlite/pkg/config"
	"github.com/downfa11-org/raftlite/pkg/logstore"
	"github.com/downfa11-org/raftlite/pkg/metrics"
	"github.com/downfa11-org/raftlite/util"
)

// Store settings follow "--" and use the regular config flags, e.g.
//
//	walbench -entries 100000 -batch 64 -- -log-dir /tmp/bench -wal-sync 10
func main() {
	entries := flag.Int("entries", 100000, "number of entries to append")
	batch := flag.Int("batch", 32, "entries per append")
	payload := flag.Int("payload", 256, "payload bytes per entry")
	readers := flag.Int("readers", 2, "concurrent tail readers")
	flag.Parse()

	cfg, err := config.LoadConfig(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	opts, err := cfg.StoreOptions()
	if err != nil {
		util.Fatal("invalid store options: %v", err)
	}
	store, err := logstore.Open(opts)
	if err != nil {
		util.Fatal("failed to open log store %s: %v", cfg.LogDir, err)
	}

	runner := bench.NewBenchmarkRunner(store, *entries, *batch, *payload, *readers, os.Stdout)
	_, runErr := runner.Run()
	if err := store.Close(); err != nil {
		util.Error("failed to close log store: %v", err)
	}
	if runErr != nil {
		util.Fatal("benchmark failed: %v", runErr)
	}
}
