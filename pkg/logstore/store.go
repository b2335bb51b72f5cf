package logstore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/raftlite/pkg/meta"
	"github.com/downfa11-org/raftlite/pkg/metrics"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/downfa11-org/raftlite/util"
)

const DefaultWalSize = 2 * 1024 * 1024

type Options struct {
	BasePath string
	WalSize  uint32
	Sync     SyncPolicy
	// Readers is the number of reader actors, at least one.
	Readers int
}

// LogStore is the entry point of the engine: writes go to a single writer
// actor, reads are spread over reader actors working off a published view.
type LogStore struct {
	opts      Options
	published atomic.Pointer[view]

	writer  *writer
	readers []*reader
	next    atomic.Uint64
	meta    *meta.Store

	stop      chan struct{}
	tickers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open loads or creates the log under opts.BasePath. When the crash marker of
// an earlier run is found, the active segment is scanned for records whose
// header update was lost and those are adopted.
func Open(opts Options) (*LogStore, error) {
	if opts.WalSize == 0 {
		opts.WalSize = DefaultWalSize
	}
	if opts.Readers < 1 {
		opts.Readers = 1
	}

	set, err := wal.OpenFileSet(opts.BasePath, opts.WalSize)
	if err != nil {
		return nil, err
	}

	lock, clean, err := meta.Acquire(opts.BasePath)
	if err != nil {
		_ = set.Close()
		return nil, err
	}

	repaired, err := set.CheckIntegrity(clean)
	if err != nil {
		_ = set.Close()
		return nil, err
	}
	if repaired > 0 {
		metrics.WalRepairedRecords.Add(float64(repaired))
	}
	if err := set.ActiveFile().MmapMut(); err != nil {
		_ = set.Close()
		return nil, err
	}

	store, err := meta.Open(opts.BasePath)
	if err != nil {
		_ = set.Close()
		return nil, err
	}
	lastPurged, err := store.LastPurged()
	if err != nil {
		_ = set.Close()
		_ = store.Close()
		return nil, err
	}

	if err := resumePurge(set, lastPurged); err != nil {
		_ = set.Close()
		_ = store.Close()
		return nil, err
	}

	s := &LogStore{opts: opts, meta: store, stop: make(chan struct{})}
	s.writer = newWriter(set, store, lock, opts.WalSize, opts.Sync, lastPurged, &s.published)
	go s.writer.run()

	for i := 0; i < opts.Readers; i++ {
		r := newReader(i, store, &s.published)
		s.readers = append(s.readers, r)
		go r.run()
	}

	if interval := opts.Sync.Interval(); interval > 0 {
		s.tickers.Add(1)
		go func() {
			defer s.tickers.Done()
			s.syncLoop(interval)
		}()
	}

	util.Info("Opened log store %s: %d segments, clean=%v, repaired=%d, sync=%s",
		opts.BasePath, len(set.Files), clean, repaired, opts.Sync)
	return s, nil
}

// resumePurge drops logs at or below lastPurged that are still on disk because
// the process died between recording a purge and removing its segments.
func resumePurge(set *wal.WalFileSet, lastPurged uint64) error {
	first, ok := set.FirstLogID()
	if !ok || first > lastPurged {
		return nil
	}
	removed, err := set.ShiftDeleteLogsUntil(lastPurged + 1)
	if err != nil {
		return err
	}
	if !set.ActiveFile().IsWritable() {
		if err := set.ActiveFile().MmapMut(); err != nil {
			return err
		}
	}
	util.Warn("Finished an interrupted purge up to id %d, %d segments removed", lastPurged, removed)
	return nil
}

func (s *LogStore) syncLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			a := &action{kind: actionSync}
			select {
			case s.writer.actions <- a:
			case <-s.stop:
				return
			case <-s.writer.done:
				return
			}
		}
	}
}

// Append writes entries and returns once the configured sync policy is satisfied.
func (s *LogStore) Append(entries []Entry) error {
	a := newAction(actionAppend)
	a.entries = entries
	return s.writer.send(a)
}

// AppendAsync enqueues entries and calls done from the writer once they are
// written. It only blocks while the writer queue is full.
func (s *LogStore) AppendAsync(entries []Entry, done func(error)) error {
	a := &action{kind: actionAppend, entries: entries, callback: done}
	return s.writer.enqueue(a)
}

// Truncate removes every log with an id at or above id.
func (s *LogStore) Truncate(id uint64) error {
	a := newAction(actionTruncate)
	a.id = id
	return s.writer.send(a)
}

// Purge removes every log with an id at or below id and remembers id as the
// last purged one.
func (s *LogStore) Purge(id uint64) error {
	a := newAction(actionPurge)
	a.id = id
	return s.writer.send(a)
}

func (s *LogStore) SetVote(v Vote) error {
	a := newAction(actionVote)
	a.vote = v
	return s.writer.send(a)
}

// Sync flushes the active segment if anything was written since the last flush.
func (s *LogStore) Sync() error {
	return s.writer.send(newAction(actionSync))
}

func (s *LogStore) reader() *reader {
	n := s.next.Add(1)
	return s.readers[n%uint64(len(s.readers))]
}

// Entries returns the logs in [from, until]. A from of 0 means the first
// stored log; until is clamped to the last stored log and must not be 0.
func (s *LogStore) Entries(from, until uint64) ([]Entry, error) {
	if until == 0 {
		panic("logstore: Entries called with until 0")
	}
	resp, err := s.reader().send(&readRequest{kind: readEntries, from: from, until: until})
	return resp.entries, err
}

func (s *LogStore) Vote() (Vote, error) {
	resp, err := s.reader().send(&readRequest{kind: readVote})
	return resp.vote, err
}

func (s *LogStore) LogState() (LogState, error) {
	resp, err := s.reader().send(&readRequest{kind: readState})
	return resp.state, err
}

// Close flushes everything, removes the crash marker and stops all actors.
// Calls after the first return the same result.
func (s *LogStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.tickers.Wait()

		err := s.writer.send(newAction(actionShutdown))
		if errors.Is(err, ErrClosed) {
			err = nil
		}

		for _, r := range s.readers {
			close(r.stop)
			<-r.done
		}
		if metaErr := s.meta.Close(); metaErr != nil {
			err = errors.Join(err, metaErr)
		}
		if err != nil {
			s.closeErr = fmt.Errorf("close log store %s: %w", s.opts.BasePath, err)
		}
		util.Info("Closed log store %s", s.opts.BasePath)
	})
	return s.closeErr
}
