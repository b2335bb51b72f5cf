package raftstore

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/downfa11-org/raftlite/pkg/logstore"
	"github.com/downfa11-org/raftlite/pkg/metrics"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/downfa11-org/raftlite/util"
	"github.com/hashicorp/raft"
)

// Stable store keys written by hashicorp/raft.
var (
	keyCurrentTerm  = []byte("CurrentTerm")
	keyLastVoteTerm = []byte("LastVoteTerm")
	keyLastVoteCand = []byte("LastVoteCand")
)

var (
	// ErrKeyNotFound matches the message raft checks for on unset keys.
	ErrKeyNotFound    = errors.New("not found")
	ErrUnsupportedKey = errors.New("unsupported stable store key")
)

type Options struct {
	Log logstore.Options
	// Compression names the codec applied to log data: none, gzip, snappy or lz4.
	Compression string
}

// Store serves hashicorp/raft as both LogStore and StableStore on top of the
// segmented WAL. Election state lives in the WAL's metadata side-store.
type Store struct {
	logs        *logstore.LogStore
	compression byte

	voteMu sync.Mutex
}

var (
	_ raft.LogStore    = (*Store)(nil)
	_ raft.StableStore = (*Store)(nil)
)

func Open(opts Options) (*Store, error) {
	code, err := util.CompressionCode(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wal.ErrConfig, err)
	}
	logs, err := logstore.Open(opts.Log)
	if err != nil {
		return nil, err
	}
	return &Store{logs: logs, compression: code}, nil
}

// Logs exposes the underlying log store.
func (s *Store) Logs() *logstore.LogStore {
	return s.logs
}

func (s *Store) Close() error {
	return s.logs.Close()
}

func (s *Store) FirstIndex() (uint64, error) {
	st, err := s.logs.LogState()
	if err != nil {
		return 0, err
	}
	return st.FirstLogID, nil
}

// LastIndex is 0 when no log is stored, even after a purge.
func (s *Store) LastIndex() (uint64, error) {
	st, err := s.logs.LogState()
	if err != nil {
		return 0, err
	}
	if st.FirstLogID == 0 {
		return 0, nil
	}
	return st.LastLogID, nil
}

func (s *Store) GetLog(index uint64, log *raft.Log) error {
	err := s.getLog(index, log)
	metrics.PushStoreOp("get", ignoreNotFound(err))
	return err
}

func (s *Store) getLog(index uint64, log *raft.Log) error {
	if index == 0 {
		return raft.ErrLogNotFound
	}
	entries, err := s.logs.Entries(index, index)
	if errors.Is(err, wal.ErrOutOfRange) {
		return raft.ErrLogNotFound
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return raft.ErrLogNotFound
	}
	return decodeLog(index, entries[0].Data, log)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, raft.ErrLogNotFound) {
		return nil
	}
	return err
}

func (s *Store) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

func (s *Store) StoreLogs(logs []*raft.Log) error {
	err := s.storeLogs(logs)
	metrics.PushStoreOp("store", err)
	return err
}

func (s *Store) storeLogs(logs []*raft.Log) error {
	if len(logs) == 0 {
		return nil
	}

	entries := make([]logstore.Entry, len(logs))
	for i, l := range logs {
		data, err := encodeLog(l, s.compression)
		if err != nil {
			return err
		}
		entries[i] = logstore.Entry{ID: l.Index, Data: data}
	}

	if err := s.skipGap(logs[0].Index); err != nil {
		return err
	}
	return s.logs.Append(entries)
}

// skipGap handles the first append into an empty log, e.g. after a snapshot
// install: the ids below first are recorded as purged so the log may continue
// from there.
func (s *Store) skipGap(first uint64) error {
	st, err := s.logs.LogState()
	if err != nil {
		return err
	}
	if st.FirstLogID != 0 || first <= st.LastPurged+1 {
		return nil
	}
	util.Debug("raft continues at index %d on an empty log purged up to %d", first, st.LastPurged)
	return s.logs.Purge(first - 1)
}

// DeleteRange removes [min, max]. Raft only ever cuts the front (compaction)
// or the back (conflicting entries), so a hole in the middle is rejected.
func (s *Store) DeleteRange(min, max uint64) error {
	err := s.deleteRange(min, max)
	metrics.PushStoreOp("delete", err)
	return err
}

func (s *Store) deleteRange(min, max uint64) error {
	if min > max {
		return nil
	}
	st, err := s.logs.LogState()
	if err != nil {
		return err
	}
	if st.FirstLogID == 0 || max < st.FirstLogID || min > st.LastLogID {
		return nil
	}

	switch {
	case min <= st.FirstLogID && max >= st.LastLogID:
		// everything goes; raft either rewrites from min or skips ahead
		// after a snapshot, which skipGap turns into a purge
		return s.logs.Truncate(st.FirstLogID)
	case min <= st.FirstLogID:
		return s.logs.Purge(max)
	case max >= st.LastLogID:
		return s.logs.Truncate(min)
	default:
		return fmt.Errorf("%w: cannot delete [%d, %d] from the middle of [%d, %d]",
			wal.ErrOutOfRange, min, max, st.FirstLogID, st.LastLogID)
	}
}

func (s *Store) Set(key []byte, val []byte) error {
	if !bytes.Equal(key, keyLastVoteCand) {
		return fmt.Errorf("%w: %s", ErrUnsupportedKey, key)
	}
	return s.updateVote(func(v *Vote) { v.Candidate = string(val) })
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if !bytes.Equal(key, keyLastVoteCand) {
		return nil, ErrKeyNotFound
	}
	v, err := s.logs.Vote()
	if err != nil {
		return nil, err
	}
	if v.Candidate == "" {
		return nil, ErrKeyNotFound
	}
	return []byte(v.Candidate), nil
}

func (s *Store) SetUint64(key []byte, val uint64) error {
	switch {
	case bytes.Equal(key, keyCurrentTerm):
		return s.updateVote(func(v *Vote) { v.Term = val })
	case bytes.Equal(key, keyLastVoteTerm):
		return s.updateVote(func(v *Vote) { v.CandidateTerm = val })
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKey, key)
	}
}

func (s *Store) GetUint64(key []byte) (uint64, error) {
	v, err := s.logs.Vote()
	if err != nil {
		return 0, err
	}
	switch {
	case bytes.Equal(key, keyCurrentTerm):
		return v.Term, nil
	case bytes.Equal(key, keyLastVoteTerm):
		return v.CandidateTerm, nil
	default:
		return 0, nil
	}
}

type Vote = logstore.Vote

// updateVote runs a read-modify-write of the stored vote.
func (s *Store) updateVote(fn func(v *Vote)) error {
	s.voteMu.Lock()
	defer s.voteMu.Unlock()

	v, err := s.logs.Vote()
	if err != nil {
		return err
	}
	fn(&v)
	return s.logs.SetVote(v)
}
