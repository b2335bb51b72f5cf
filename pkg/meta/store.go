package meta

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/downfa11-org/raftlite/util"
	bolt "go.etcd.io/bbolt"
)

const (
	FileName = "meta.db"

	bucketName     = "meta"
	keyVote        = "vote"
	keyLastPurged  = "last_purged"
	defaultTimeout = time.Second
)

var ErrCorrupted = errors.New("metadata corrupted")

// Vote is the persisted election state of the local node.
type Vote struct {
	Term          uint64 `json:"term"`
	Candidate     string `json:"candidate,omitempty"`
	CandidateTerm uint64 `json:"candidate_term"`
	Committed     bool   `json:"committed"`
}

// Store keeps the small pieces of state that live next to the log segments:
// the last vote and the id of the last purged log.
type Store struct {
	path string
	db   *bolt.DB
}

func Open(basePath string) (*Store, error) {
	path := filepath.Join(basePath, FileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, fmt.Errorf("open metadata %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create metadata bucket: %w", err)
	}

	util.Debug("Opened metadata store %s", path)
	return &Store{path: path, db: db}, nil
}

// OpenExisting opens the side-store of basePath read-only. It fails when the
// store was never created.
func OpenExisting(basePath string) (*Store, error) {
	path := filepath.Join(basePath, FileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open metadata %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTimeout, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open metadata %s: %w", path, err)
	}
	return &Store{path: path, db: db}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Vote returns the stored vote, or the zero vote if none was ever saved.
func (s *Store) Vote() (Vote, error) {
	var v Vote
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := get(tx, keyVote)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%w: vote: %v", ErrCorrupted, err)
		}
		return nil
	})
	return v, err
}

func get(tx *bolt.Tx, key string) []byte {
	b := tx.Bucket([]byte(bucketName))
	if b == nil {
		return nil
	}
	return b.Get([]byte(key))
}

func (s *Store) SetVote(v Vote) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(keyVote), raw)
	})
}

// LastPurged returns the highest purged log id, 0 if nothing was purged.
func (s *Store) LastPurged() (uint64, error) {
	var id uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := get(tx, keyLastPurged)
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			return fmt.Errorf("%w: last_purged is %d bytes", ErrCorrupted, len(raw))
		}
		id = binary.BigEndian.Uint64(raw)
		return nil
	})
	return id, err
}

func (s *Store) SetLastPurged(id uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(keyLastPurged), buf)
	})
}

// Sync forces the database file to disk.
func (s *Store) Sync() error {
	return s.db.Sync()
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close metadata %s: %w", s.path, err)
	}
	return nil
}
