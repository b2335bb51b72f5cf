package logstore

import (
	"github.com/downfa11-org/raftlite/pkg/meta"
	"github.com/downfa11-org/raftlite/pkg/wal"
)

// Entry is one log record as seen by the store's callers.
type Entry struct {
	ID   uint64
	Data []byte
}

type Vote = meta.Vote

// LogState summarizes what the store holds. LastLogID falls back to
// LastPurged when no records are left, and both are 0 for a fresh store.
type LogState struct {
	LastPurged uint64
	FirstLogID uint64
	LastLogID  uint64
}

// view is the read side's snapshot of the writer's state. The segment set
// carries metadata only; readers map files themselves.
type view struct {
	set        *wal.WalFileSet
	lastPurged uint64
	// epoch changes whenever segment numbers may have been reused.
	epoch uint64
}

func (v *view) state() LogState {
	st := LogState{LastPurged: v.lastPurged, LastLogID: v.lastPurged}
	if first, ok := v.set.FirstLogID(); ok {
		st.FirstLogID = first
	}
	if last, ok := v.set.LastLogID(); ok {
		st.LastLogID = last
	}
	return st
}
