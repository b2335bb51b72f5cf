package logstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/downfa11-org/raftlite/pkg/wal"
)

type syncMode uint8

const (
	syncImmediate syncMode = iota
	syncImmediateAsync
	syncInterval
)

// SyncPolicy decides when appended records are flushed to disk.
type SyncPolicy struct {
	mode     syncMode
	interval time.Duration
}

// Immediate flushes synchronously before every append is acknowledged.
func Immediate() SyncPolicy {
	return SyncPolicy{mode: syncImmediate}
}

// ImmediateAsync schedules a flush before every acknowledgement without waiting for it.
func ImmediateAsync() SyncPolicy {
	return SyncPolicy{mode: syncImmediateAsync}
}

// IntervalMillis flushes from a ticker every ms milliseconds.
func IntervalMillis(ms uint64) SyncPolicy {
	return SyncPolicy{mode: syncInterval, interval: time.Duration(ms) * time.Millisecond}
}

// ParseSyncPolicy accepts "immediate", "immediate_async" or an interval in milliseconds.
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "immediate":
		return Immediate(), nil
	case "immediate_async":
		return ImmediateAsync(), nil
	default:
		ms, err := strconv.ParseUint(v, 10, 64)
		if err != nil || ms == 0 {
			return SyncPolicy{}, fmt.Errorf("%w: invalid wal sync policy %q", wal.ErrConfig, s)
		}
		return IntervalMillis(ms), nil
	}
}

// Interval is the ticker period, 0 unless the policy is interval based.
func (p SyncPolicy) Interval() time.Duration {
	if p.mode != syncInterval {
		return 0
	}
	return p.interval
}

func (p SyncPolicy) String() string {
	switch p.mode {
	case syncImmediate:
		return "immediate"
	case syncImmediateAsync:
		return "immediate_async"
	default:
		return strconv.FormatInt(p.interval.Milliseconds(), 10)
	}
}
