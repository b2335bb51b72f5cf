package logstore

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/downfa11-org/raftlite/pkg/meta"
	"github.com/downfa11-org/raftlite/pkg/metrics"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/downfa11-org/raftlite/util"
)

type readKind uint8

const (
	readEntries readKind = iota
	readVote
	readState
)

func (k readKind) String() string {
	switch k {
	case readEntries:
		return "entries"
	case readVote:
		return "vote"
	default:
		return "state"
	}
}

type readRequest struct {
	kind  readKind
	from  uint64
	until uint64
	resp  chan readResponse
}

type readResponse struct {
	entries []Entry
	vote    Vote
	state   LogState
	err     error
}

// reader answers read requests against the most recently published view
// using its own read-only mappings. It never waits for the writer.
type reader struct {
	id        int
	meta      *meta.Store
	published *atomic.Pointer[view]

	requests chan *readRequest
	stop     chan struct{}
	done     chan struct{}

	files map[uint64]*wal.WalFile
	epoch uint64
}

func newReader(id int, store *meta.Store, published *atomic.Pointer[view]) *reader {
	return &reader{
		id:        id,
		meta:      store,
		published: published,
		requests:  make(chan *readRequest, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		files:     make(map[uint64]*wal.WalFile),
	}
}

func (r *reader) send(req *readRequest) (readResponse, error) {
	req.resp = make(chan readResponse, 1)
	select {
	case <-r.done:
		return readResponse{}, ErrClosed
	default:
	}
	select {
	case r.requests <- req:
	case <-r.done:
		return readResponse{}, ErrClosed
	}
	select {
	case resp := <-req.resp:
		return resp, resp.err
	case <-r.done:
		select {
		case resp := <-req.resp:
			return resp, resp.err
		default:
			return readResponse{}, ErrClosed
		}
	}
}

func (r *reader) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)
	defer r.unmapAll()

	for {
		select {
		case <-r.stop:
			return
		case req := <-r.requests:
			req.resp <- r.handle(req)
		}
	}
}

func (r *reader) handle(req *readRequest) readResponse {
	metrics.ReaderRequests.WithLabelValues(req.kind.String()).Inc()
	switch req.kind {
	case readVote:
		v, err := r.meta.Vote()
		return readResponse{vote: v, err: err}
	case readState:
		return readResponse{state: r.published.Load().state()}
	default:
		entries, err := r.entries(req.from, req.until)
		return readResponse{entries: entries, err: err}
	}
}

// entries returns ids [from, until], clamped to the last stored id. A from of
// 0 starts at the first stored id.
func (r *reader) entries(from, until uint64) ([]Entry, error) {
	v := r.published.Load()
	r.reconcile(v)

	first, ok := v.set.FirstLogID()
	if !ok {
		if from == 0 || from > v.lastPurged {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: id %d was purged", wal.ErrOutOfRange, from)
	}
	last, _ := v.set.LastLogID()

	if from == 0 {
		from = first
	}
	if from < first {
		return nil, fmt.Errorf("%w: id %d is below the first stored id %d", wal.ErrOutOfRange, from, first)
	}
	until = min(until, last)
	if from > until {
		return nil, nil
	}

	out := make([]Entry, 0, until-from+1)
	for _, seg := range v.set.Overlapping(from, until) {
		f := r.files[seg.WalNo]
		if !f.IsMapped() {
			if err := f.Mmap(); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					// purged after the view was taken
					return nil, fmt.Errorf("%w: segment %d is gone: %v", wal.ErrOutOfRange, seg.WalNo, err)
				}
				return nil, err
			}
			metrics.ReaderMappings.Inc()
		}
		logs, err := f.ReadLogs(max(from, f.IDFrom), min(until, f.IDUntil))
		if err != nil {
			return nil, err
		}
		for _, rec := range logs {
			out = append(out, Entry{ID: rec.ID, Data: rec.Data})
		}
	}
	return out, nil
}

// reconcile brings the reader's segments in line with v, dropping mappings of
// segments that no longer exist.
func (r *reader) reconcile(v *view) {
	if v.epoch != r.epoch {
		r.unmapAll()
		r.epoch = v.epoch
	}

	live := make(map[uint64]struct{}, len(v.set.Files))
	for _, seg := range v.set.Files {
		live[seg.WalNo] = struct{}{}
		if f, ok := r.files[seg.WalNo]; ok {
			f.SyncMeta(seg)
			continue
		}
		r.files[seg.WalNo] = cloneFile(seg)
	}

	for walNo, f := range r.files {
		if _, ok := live[walNo]; ok {
			continue
		}
		r.release(f)
		delete(r.files, walNo)
	}
}

func (r *reader) release(f *wal.WalFile) {
	if !f.IsMapped() {
		return
	}
	f.Close()
	metrics.ReaderMappings.Dec()
}

func (r *reader) unmapAll() {
	for walNo, f := range r.files {
		r.release(f)
		delete(r.files, walNo)
	}
	util.Debug("reader %d dropped all segment mappings", r.id)
}

func cloneFile(f *wal.WalFile) *wal.WalFile {
	c := *f
	return &c
}
