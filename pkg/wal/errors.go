package wal

import "errors"

var (
	// ErrIntegrity covers CRC mismatches, out-of-order ids and header/data disagreements.
	ErrIntegrity = errors.New("wal: integrity violation")
	// ErrFileCorrupted means a segment header carries a bad magic or an unknown version.
	ErrFileCorrupted = errors.New("wal: file corrupted")
	ErrInvalidPath   = errors.New("wal: invalid path")
	// ErrInvalidFileName is returned for *.wal files not named %016d.wal.
	ErrInvalidFileName = errors.New("wal: invalid file name")
	ErrConfig          = errors.New("wal: invalid config")
	ErrOutOfRange      = errors.New("wal: log id out of range")
	ErrNotMapped       = errors.New("wal: segment not mapped")
)
