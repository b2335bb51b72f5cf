package raftstore

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/raftlite/util"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
)

type NodeConfig struct {
	ID string
	// DataDir holds the snapshot store.
	DataDir       string
	BindAddr      string
	AdvertiseAddr string
	// Members lists the voters of a new cluster as "id@addr" or "addr".
	// Bootstrapping only happens when the node has no state yet.
	Members []string
	// Transport overrides the TCP transport, mostly for tests.
	Transport raft.Transport
	// Raft overrides the default raft configuration.
	Raft *raft.Config
}

// RaftConfig returns the tuned defaults used for every node.
func RaftConfig(id string) *raft.Config {
	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(id)
	conf.ProtocolVersion = raft.ProtocolVersionMax
	conf.HeartbeatTimeout = 500 * time.Millisecond
	conf.ElectionTimeout = 1500 * time.Millisecond
	conf.CommitTimeout = 100 * time.Millisecond
	conf.Logger = NewLogger("raft")
	return conf
}

// NewLogger maps the global util level onto an hclog logger for raft.
func NewLogger(name string) hclog.Logger {
	level := hclog.Info
	switch util.Level() {
	case util.LogLevelDebug:
		level = hclog.Debug
	case util.LogLevelWarn:
		level = hclog.Warn
	case util.LogLevelError:
		level = hclog.Error
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  level,
		Output: os.Stderr,
	})
}

// NewNode starts a raft node whose log and stable state live in store.
func NewNode(cfg NodeConfig, fsm raft.FSM, store *Store) (*raft.Raft, error) {
	conf := cfg.Raft
	if conf == nil {
		conf = RaftConfig(cfg.ID)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		util.Error("Failed to create raft data directory %s: %v", cfg.DataDir, err)
		return nil, fmt.Errorf("failed to create raft data directory: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 3, os.Stderr)
	if err != nil {
		util.Error("Failed to create snapshot store: %v", err)
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		advertise, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			util.Error("Failed to resolve advertised address %s: %v", cfg.AdvertiseAddr, err)
			return nil, fmt.Errorf("failed to resolve advertised address: %w", err)
		}
		transport, err = raft.NewTCPTransport(cfg.BindAddr, advertise, 3, 10*time.Second, os.Stderr)
		if err != nil {
			util.Error("Failed to create raft transport: %v", err)
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
	}

	existing, err := raft.HasExistingState(store, store, snapshots)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect raft state: %w", err)
	}

	r, err := raft.NewRaft(conf, fsm, store, store, snapshots, transport)
	if err != nil {
		util.Error("Failed to create raft instance: %v", err)
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	if existing || len(cfg.Members) == 0 {
		return r, nil
	}

	servers, err := parseMembers(cfg.Members)
	if err != nil {
		_ = r.Shutdown().Error()
		return nil, err
	}
	if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		util.Error("Failed to bootstrap cluster: %v", err)
		_ = r.Shutdown().Error()
		return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	util.Info("Bootstrapped raft cluster with %d voters", len(servers))
	return r, nil
}

func parseMembers(members []string) ([]raft.Server, error) {
	var servers []raft.Server
	for _, member := range members {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}

		var memberID, memberAddr string
		if id, addr, ok := strings.Cut(member, "@"); ok {
			memberID, memberAddr = id, addr
		} else {
			memberAddr = member
			memberID = strings.Split(memberAddr, ":")[0]
		}
		if memberID == "" || memberAddr == "" {
			return nil, fmt.Errorf("invalid cluster member %q", member)
		}

		servers = append(servers, raft.Server{
			ID:       raft.ServerID(memberID),
			Address:  raft.ServerAddress(memberAddr),
			Suffrage: raft.Voter,
		})
		util.Debug("Added cluster member: id=%s addr=%s", memberID, memberAddr)
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no valid servers found in cluster members")
	}
	return servers, nil
}
