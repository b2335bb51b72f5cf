package config

import (
	"fmt"
	"strings"

	"github.com/downfa11-org/raftlite/pkg/logstore"
	"github.com/downfa11-org/raftlite/pkg/raftstore"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/downfa11-org/raftlite/util"
)

func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = defaultLogDir
	}
	if cfg.WalSize == 0 {
		cfg.WalSize = defaultWalSize
	}
	cfg.WalSync = strings.ToLower(strings.TrimSpace(cfg.WalSync))
	if cfg.WalSync == "" {
		cfg.WalSync = defaultWalSync
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = defaultExporterPort
	}
	if cfg.Readers <= 0 {
		util.Warn("Invalid readers (%d), defaulting to %d", cfg.Readers, defaultReaders)
		cfg.Readers = defaultReaders
	}

	cfg.Compression = strings.ToLower(strings.TrimSpace(cfg.Compression))
	switch cfg.Compression {
	case "none", "gzip", "snappy", "lz4":
	case "":
		cfg.Compression = defaultCompression
	default:
		util.Warn("Invalid compression '%s', defaulting to 'none'", cfg.Compression)
		cfg.Compression = defaultCompression
	}
}

// Validate rejects settings the store cannot run with.
func (cfg *Config) Validate() error {
	if cfg.WalSize < wal.MinWalSize {
		return fmt.Errorf("%w: wal_size %d is below the minimum of %d bytes", wal.ErrConfig, cfg.WalSize, wal.MinWalSize)
	}
	if _, err := logstore.ParseSyncPolicy(cfg.WalSync); err != nil {
		return err
	}
	return nil
}

// StoreOptions translates the configuration for logstore.Open.
func (cfg *Config) StoreOptions() (logstore.Options, error) {
	policy, err := logstore.ParseSyncPolicy(cfg.WalSync)
	if err != nil {
		return logstore.Options{}, err
	}
	return logstore.Options{
		BasePath: cfg.LogDir,
		WalSize:  cfg.WalSize,
		Sync:     policy,
		Readers:  cfg.Readers,
	}, nil
}

// RaftStoreOptions translates the configuration for raftstore.Open.
func (cfg *Config) RaftStoreOptions() (raftstore.Options, error) {
	opts, err := cfg.StoreOptions()
	if err != nil {
		return raftstore.Options{}, err
	}
	return raftstore.Options{Log: opts, Compression: cfg.Compression}, nil
}
