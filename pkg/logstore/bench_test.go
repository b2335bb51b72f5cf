package logstore

import (
	"fmt"
	"testing"
)

func benchmarkAppend(b *testing.B, policy SyncPolicy, batch, size int) {
	store, err := Open(Options{BasePath: b.TempDir(), Sync: policy, Readers: 1})
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	payload := make([]byte, size)
	entries := make([]Entry, batch)
	next := uint64(1)

	b.SetBytes(int64(batch * size))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range entries {
			entries[j] = Entry{ID: next, Data: payload}
			next++
		}
		if err := store.Append(entries); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAppend(b *testing.B) {
	policies := []SyncPolicy{Immediate(), ImmediateAsync(), IntervalMillis(10)}
	for _, policy := range policies {
		for _, batch := range []int{1, 64} {
			b.Run(fmt.Sprintf("%s/batch=%d", policy, batch), func(b *testing.B) {
				benchmarkAppend(b, policy, batch, 256)
			})
		}
	}
}

func BenchmarkEntries(b *testing.B) {
	store, err := Open(Options{BasePath: b.TempDir(), Sync: IntervalMillis(100), Readers: 2})
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	const total = 20000
	payload := make([]byte, 256)
	for id := uint64(1); id <= total; id += 100 {
		batch := make([]Entry, 100)
		for j := range batch {
			batch[j] = Entry{ID: id + uint64(j), Data: payload}
		}
		if err := store.Append(batch); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		from := uint64(1)
		for pb.Next() {
			if _, err := store.Entries(from, from+63); err != nil {
				b.Error(err)
				return
			}
			from = from%(total-64) + 64
		}
	})
}
