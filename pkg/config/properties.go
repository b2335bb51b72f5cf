package config

import (
	"encoding/json"
	"flag"
	"math"
	"os"
	"strings"

	"github.com/downfa11-org/raftlite/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogDir       = "raftlite-data"
	defaultWalSize      = 2 * 1024 * 1024
	defaultWalSync      = "immediate"
	defaultExporterPort = 9100
	defaultCompression  = "none"
	defaultReaders      = 2
)

// Config holds everything needed to open a log store.
type Config struct {
	LogDir   string        `yaml:"log_dir" json:"log.dir"`
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// WAL
	WalSize     uint32 `yaml:"wal_size" json:"wal.size"`
	WalSync     string `yaml:"wal_sync" json:"wal.sync"`
	Compression string `yaml:"compression" json:"compression"`
	Readers     int    `yaml:"readers" json:"readers"`

	// Monitoring
	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter.port"`
}

// LoadConfig builds the configuration from defaults, an optional YAML/JSON
// file (-config or CONFIG_PATH) and command line flags, in that order.
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("raftlite", flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to YAML/JSON config file")
	logDir := fs.String("log-dir", defaultLogDir, "Directory holding the WAL segments")
	walSize := fs.String("wal-size", "2097152", "Segment capacity in bytes, units k/m/g allowed")
	walSync := fs.String("wal-sync", defaultWalSync, "Sync policy: immediate, immediate_async or an interval in ms")
	logLevel := fs.String("log-level", "info", "Log Level (debug, info, warn, error)")
	exporter := fs.String("exporter", "false", "Enable Prometheus exporter")
	exporterPort := fs.String("exporter-port", "9100", "Exporter port")
	compression := fs.String("compression", defaultCompression, "Raft log compression (none, gzip, snappy, lz4)")
	readers := fs.String("readers", "2", "Number of reader actors")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	cfg := &Config{
		LogDir:         *logDir,
		WalSize:        parseWalSize(*walSize, defaultWalSize),
		WalSync:        *walSync,
		LogLevel:       util.ParseLogLevel(*logLevel),
		EnableExporter: util.ParseBool(*exporter, false),
		ExporterPort:   util.ParseInt(*exporterPort, defaultExporterPort),
		Compression:    *compression,
		Readers:        util.ParseInt(*readers, defaultReaders),
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}

	applyExplicitFlags(cfg, fs)

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func parseWalSize(str string, fallback uint32) uint32 {
	n := util.ParseSize(str, int64(fallback))
	if n > math.MaxUint32 {
		return fallback
	}
	return uint32(n)
}

func (cfg *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// applyExplicitFlags lets flags given on the command line win over the file.
func applyExplicitFlags(cfg *Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "log-dir":
			cfg.LogDir = v
		case "wal-size":
			cfg.WalSize = parseWalSize(v, cfg.WalSize)
		case "wal-sync":
			cfg.WalSync = v
		case "log-level":
			cfg.LogLevel = util.ParseLogLevel(v)
		case "exporter":
			cfg.EnableExporter = util.ParseBool(v, cfg.EnableExporter)
		case "exporter-port":
			cfg.ExporterPort = util.ParseInt(v, cfg.ExporterPort)
		case "compression":
			cfg.Compression = v
		case "readers":
			cfg.Readers = util.ParseInt(v, cfg.Readers)
		}
	})
}
