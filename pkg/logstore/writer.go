package logstore

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/raftlite/pkg/meta"
	"github.com/downfa11-org/raftlite/pkg/metrics"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/downfa11-org/raftlite/util"
)

// A segment with less room than this is sealed right after an append, so the
// next append rarely pays for a rollover.
const eagerRolloverBytes = 4 * 1024

type actionKind uint8

const (
	actionAppend actionKind = iota
	actionTruncate
	actionPurge
	actionVote
	actionSync
	actionShutdown
)

func (k actionKind) String() string {
	switch k {
	case actionAppend:
		return "append"
	case actionTruncate:
		return "truncate"
	case actionPurge:
		return "purge"
	case actionVote:
		return "vote"
	case actionSync:
		return "sync"
	case actionShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("action(%d)", uint8(k))
	}
}

type action struct {
	kind     actionKind
	entries  []Entry
	id       uint64
	vote     Vote
	ack      chan error
	callback func(error)
}

func newAction(kind actionKind) *action {
	return &action{kind: kind, ack: make(chan error, 1)}
}

// writer is the only goroutine that touches the live segment set, the write
// mapping and the side-store's write path.
type writer struct {
	set     *wal.WalFileSet
	meta    *meta.Store
	lock    *meta.Lock
	walSize uint32
	policy  SyncPolicy

	actions chan *action
	done    chan struct{}

	// mu guards closed; pending counts senders that may still hit actions
	mu      sync.Mutex
	closed  bool
	pending atomic.Int64

	dirty      bool
	lastPurged uint64
	epoch      uint64
	published  *atomic.Pointer[view]
}

func newWriter(set *wal.WalFileSet, store *meta.Store, lock *meta.Lock, walSize uint32, policy SyncPolicy, lastPurged uint64, published *atomic.Pointer[view]) *writer {
	w := &writer{
		set:        set,
		meta:       store,
		lock:       lock,
		walSize:    walSize,
		policy:     policy,
		actions:    make(chan *action, 1),
		done:       make(chan struct{}),
		lastPurged: lastPurged,
		published:  published,
	}
	w.publish()
	return w
}

// send enqueues a and waits for its acknowledgement.
func (w *writer) send(a *action) error {
	if err := w.enqueue(a); err != nil {
		return err
	}
	select {
	case err := <-a.ack:
		return err
	case <-w.done:
		select {
		case err := <-a.ack:
			return err
		default:
			return ErrClosed
		}
	}
}

func (w *writer) enqueue(a *action) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.pending.Add(1)
	w.mu.Unlock()
	defer w.pending.Add(-1)

	select {
	case w.actions <- a:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// drain refuses new actions and fails everything still queued with ErrClosed.
func (w *writer) drain() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	for {
		select {
		case a := <-w.actions:
			w.reply(a, ErrClosed)
		default:
			if w.pending.Load() == 0 && len(w.actions) == 0 {
				return
			}
			runtime.Gosched()
		}
	}
}

func (w *writer) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	for a := range w.actions {
		var err error
		switch a.kind {
		case actionAppend:
			w.handleAppend(a)
			continue
		case actionTruncate:
			err = w.truncate(a.id)
		case actionPurge:
			err = w.purge(a.id)
		case actionVote:
			err = w.meta.SetVote(a.vote)
		case actionSync:
			err = w.sync()
		case actionShutdown:
			err = w.shutdown()
			w.drain()
			w.reply(a, err)
			return
		}
		if err != nil {
			util.Error("wal writer failed to %s: %v", a.kind, err)
		}
		w.reply(a, err)
	}
}

func (w *writer) reply(a *action, err error) {
	if a.ack != nil {
		a.ack <- err
	}
	if a.callback != nil {
		a.callback(err)
	}
}

func (w *writer) handleAppend(a *action) {
	start := time.Now()
	n, size, err := w.append(a.entries)
	if err == nil {
		err = w.applyPolicy()
	}
	if n > 0 {
		w.publish()
	}
	if err != nil {
		util.Error("wal writer failed to append: %v", err)
	} else {
		metrics.PushAppend(n, size, time.Since(start))
	}
	w.reply(a, err)

	if w.set.ActiveFile().SpaceLeft() < eagerRolloverBytes && !w.set.ActiveFile().IsEmpty() {
		if err := w.rollOver(); err != nil {
			util.Error("wal writer failed to roll over eagerly: %v", err)
			return
		}
		w.publish()
	}
}

// nextID is the id the next append must carry, 0 if any id is accepted.
func (w *writer) nextID() uint64 {
	if last, ok := w.set.LastLogID(); ok {
		return last + 1
	}
	return w.set.ActiveFile().IDFrom
}

func (w *writer) validate(entries []Entry) error {
	next := w.nextID()
	if next == 0 {
		next = entries[0].ID
	}
	if next == 0 {
		return fmt.Errorf("%w: log ids start at 1", ErrNonSequential)
	}
	room := int(w.walSize) - wal.HeaderSize
	for i, e := range entries {
		if e.ID != next+uint64(i) {
			return fmt.Errorf("%w: expected id %d, got %d", ErrNonSequential, next+uint64(i), e.ID)
		}
		if wal.RecordHeaderSize+len(e.Data) > room {
			panic(fmt.Sprintf("log %d carries %d bytes and can never fit a %d byte segment", e.ID, len(e.Data), w.walSize))
		}
	}
	return nil
}

// append writes entries and returns how many records and payload bytes landed.
func (w *writer) append(entries []Entry) (int, int, error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}
	if err := w.validate(entries); err != nil {
		return 0, 0, err
	}

	size := 0
	for i, e := range entries {
		if !w.set.ActiveFile().HasSpace(len(e.Data)) {
			if err := w.rollOver(); err != nil {
				return i, size, err
			}
		}
		if err := w.set.ActiveFile().AppendLog(e.ID, e.Data); err != nil {
			return i, size, err
		}
		w.dirty = true
		size += len(e.Data)
	}
	return len(entries), size, nil
}

func (w *writer) applyPolicy() error {
	switch w.policy.mode {
	case syncImmediate:
		return w.flush(false)
	case syncImmediateAsync:
		return w.flush(true)
	default:
		return nil
	}
}

func (w *writer) flush(async bool) error {
	if !w.dirty {
		return nil
	}
	active := w.set.ActiveFile()
	var err error
	if async {
		err = active.FlushAsync()
	} else {
		err = active.Flush()
	}
	if err != nil {
		return err
	}
	w.dirty = false
	metrics.PushSync(async)
	return nil
}

func (w *writer) sync() error {
	return w.flush(false)
}

func (w *writer) rollOver() error {
	if err := w.set.RollOver(w.walSize); err != nil {
		return err
	}
	// the sealed segment was flushed by the rollover
	w.dirty = false
	metrics.WalRollovers.Inc()
	return nil
}

func (w *writer) truncate(id uint64) error {
	last, ok := w.set.LastLogID()
	cut := ok && id <= last
	removed, err := w.set.TruncateFrom(id)
	if removed > 0 {
		w.epoch++
	}
	// only a completed cut leaves the active segment flushed
	if cut && err == nil {
		w.dirty = false
	}
	w.publish()
	if err != nil {
		return err
	}
	metrics.WalTruncations.Inc()
	util.Debug("Truncated wal from id %d, %d segments removed", id, removed)
	return nil
}

// purge records id as purged before any segment goes away, so a restart after
// a crash in between finishes the job.
func (w *writer) purge(id uint64) error {
	if id <= w.lastPurged {
		return nil
	}
	if err := w.meta.SetLastPurged(id); err != nil {
		return err
	}
	w.lastPurged = id
	defer w.publish()

	removed, err := w.set.ShiftDeleteLogsUntil(id + 1)
	if err != nil {
		return err
	}
	if !w.set.ActiveFile().IsWritable() {
		if err := w.set.ActiveFile().MmapMut(); err != nil {
			return err
		}
	}
	metrics.WalPurgedSegments.Add(float64(removed))
	util.Debug("Purged wal up to id %d, %d segments removed", id, removed)
	return nil
}

func (w *writer) shutdown() error {
	w.dirty = true
	err := w.flush(false)
	if metaErr := w.meta.Sync(); metaErr != nil && err == nil {
		err = metaErr
	}
	if closeErr := w.set.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		// keep the crash marker so the next start runs the repair scan
		return err
	}
	return w.lock.Release()
}

func (w *writer) publish() {
	w.published.Store(&view{set: w.set.Clone(), lastPurged: w.lastPurged, epoch: w.epoch})
	metrics.WalSegments.Set(float64(len(w.set.Files)))
}
