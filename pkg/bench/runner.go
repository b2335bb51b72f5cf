package bench

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/raftlite/pkg/logstore"
)

type BenchmarkRunner struct {
	Store       *logstore.LogStore
	NumEntries  int
	BatchSize   int
	PayloadSize int
	NumReaders  int
	// ReadBatch is the number of entries fetched per reader request.
	ReadBatch int
	Out       io.Writer
}

type Result struct {
	Entries     int
	Duration    time.Duration
	ReadEntries int64
	ReadErrors  int64
}

func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Entries) / r.Duration.Seconds()
}

func NewBenchmarkRunner(store *logstore.LogStore, entries, batch, payload, readers int, out io.Writer) *BenchmarkRunner {
	return &BenchmarkRunner{
		Store:       store,
		NumEntries:  entries,
		BatchSize:   max(batch, 1),
		PayloadSize: payload,
		NumReaders:  readers,
		ReadBatch:   256,
		Out:         out,
	}
}

// Run appends NumEntries after the last stored id while readers keep
// scanning the tail, then prints a summary.
func (b *BenchmarkRunner) Run() (Result, error) {
	st, err := b.Store.LogState()
	if err != nil {
		return Result{}, err
	}
	next := st.LastLogID + 1

	payload := make([]byte, b.PayloadSize)
	if _, err := rand.Read(payload); err != nil {
		return Result{}, fmt.Errorf("generate payload: %w", err)
	}

	var readEntries, readErrors atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < b.NumReaders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.readLoop(stop, &readEntries, &readErrors)
		}()
	}

	start := time.Now()
	written := 0
	for written < b.NumEntries {
		n := min(b.BatchSize, b.NumEntries-written)
		batch := make([]logstore.Entry, n)
		for i := range batch {
			batch[i] = logstore.Entry{ID: next, Data: payload}
			next++
		}
		if err := b.Store.Append(batch); err != nil {
			close(stop)
			wg.Wait()
			return Result{}, fmt.Errorf("append at id %d: %w", batch[0].ID, err)
		}
		written += n
	}
	duration := time.Since(start)
	close(stop)
	wg.Wait()

	res := Result{
		Entries:     written,
		Duration:    duration,
		ReadEntries: readEntries.Load(),
		ReadErrors:  readErrors.Load(),
	}
	b.print(res)
	return res, nil
}

func (b *BenchmarkRunner) readLoop(stop <-chan struct{}, entries, errs *atomic.Int64) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		st, err := b.Store.LogState()
		if err != nil {
			errs.Add(1)
			return
		}
		if st.LastLogID == 0 {
			continue
		}
		from := st.FirstLogID
		if st.LastLogID >= uint64(b.ReadBatch) {
			from = max(from, st.LastLogID-uint64(b.ReadBatch)+1)
		}
		got, err := b.Store.Entries(from, st.LastLogID)
		if err != nil {
			errs.Add(1)
			continue
		}
		entries.Add(int64(len(got)))
	}
}

func (b *BenchmarkRunner) print(r Result) {
	if b.Out == nil {
		return
	}
	fmt.Fprintf(b.Out, "\n🧪 BENCHMARK RESULT [wal] 🧪\n")
	fmt.Fprintf(b.Out, "-------------------------------------\n")
	fmt.Fprintf(b.Out, " Entries       : %d\n", r.Entries)
	fmt.Fprintf(b.Out, " Batch Size    : %d\n", b.BatchSize)
	fmt.Fprintf(b.Out, " Payload       : %d bytes\n", b.PayloadSize)
	fmt.Fprintf(b.Out, " Readers       : %d\n", b.NumReaders)
	fmt.Fprintf(b.Out, " Duration      : %v\n", r.Duration)
	fmt.Fprintf(b.Out, " Throughput    : %.2f entries/sec\n", r.Throughput())
	fmt.Fprintf(b.Out, " Entries Read  : %d (%d errors)\n", r.ReadEntries, r.ReadErrors)
	fmt.Fprintf(b.Out, "-------------------------------------\n")
}
