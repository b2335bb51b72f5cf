package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/raftlite/pkg/config"
	"github.com/downfa11-org/raftlite/pkg/logstore"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/downfa11-org/raftlite/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &config.Config{Compression: "zstd", Readers: -1}
	cfg.Normalize()

	assert.Equal(t, "raftlite-data", cfg.LogDir)
	assert.Equal(t, uint32(2*1024*1024), cfg.WalSize)
	assert.Equal(t, "immediate", cfg.WalSync)
	assert.Equal(t, 9100, cfg.ExporterPort)
	assert.Equal(t, 2, cfg.Readers)
	assert.Equal(t, "none", cfg.Compression)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := &config.Config{WalSize: wal.MinWalSize - 1}
	cfg.Normalize()
	assert.ErrorIs(t, cfg.Validate(), wal.ErrConfig)

	cfg = &config.Config{WalSync: "whenever"}
	cfg.Normalize()
	assert.ErrorIs(t, cfg.Validate(), wal.ErrConfig)
}

func TestLoadConfig_FlagsOnly(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cfg, err := config.LoadConfig([]string{"-log-dir", "/tmp/wal", "-wal-sync", "250", "-readers", "4"})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/wal", cfg.LogDir)
	assert.Equal(t, "250", cfg.WalSync)
	assert.Equal(t, 4, cfg.Readers)
	assert.False(t, cfg.EnableExporter)

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	assert.Equal(t, logstore.IntervalMillis(250), opts.Sync)
	assert.Equal(t, "/tmp/wal", opts.BasePath)
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raftlite.yaml")
	yml := `
log_dir: /var/lib/raftlite
wal_size: 65536
wal_sync: immediate_async
log_level: warn
compression: lz4
enable_exporter: true
exporter_port: 9300
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := config.LoadConfig([]string{"-config", path, "-exporter-port", "9400"})
	require.NoError(t, err)
	t.Cleanup(func() { util.SetLevel(util.LogLevelInfo) })

	assert.Equal(t, "/var/lib/raftlite", cfg.LogDir)
	assert.Equal(t, uint32(65536), cfg.WalSize)
	assert.Equal(t, "immediate_async", cfg.WalSync)
	assert.Equal(t, util.LogLevelWarn, cfg.LogLevel)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.True(t, cfg.EnableExporter)
	assert.Equal(t, 9400, cfg.ExporterPort)

	opts, err := cfg.RaftStoreOptions()
	require.NoError(t, err)
	assert.Equal(t, "lz4", opts.Compression)
	assert.Equal(t, logstore.ImmediateAsync(), opts.Log.Sync)
}

func TestLoadConfig_JSONFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftlite.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log.dir": "json-dir", "wal.size": 32768, "readers": 3}`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := config.LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "json-dir", cfg.LogDir)
	assert.Equal(t, uint32(32768), cfg.WalSize)
	assert.Equal(t, 3, cfg.Readers)
}

func TestLoadConfig_RejectsSmallSegments(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	_, err := config.LoadConfig([]string{"-wal-size", "1024"})
	assert.ErrorIs(t, err, wal.ErrConfig)
}

func TestLoadConfig_WalSizeUnits(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cfg, err := config.LoadConfig([]string{"-wal-size", "4MiB", "-log-level", "info"})
	require.NoError(t, err)
	assert.Equal(t, uint32(4<<20), cfg.WalSize)

	// larger than a segment offset can address
	cfg, err = config.LoadConfig([]string{"-wal-size", "8g", "-log-level", "info"})
	require.NoError(t, err)
	assert.Equal(t, uint32(2*1024*1024), cfg.WalSize)
}
