//go:build linux || darwin || freebsd

package wal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mmapFile(path string, size int, writable bool) ([]byte, error) {
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if writable {
		flag, prot = os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	// the mapping outlives the descriptor
	defer f.Close()

	b, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	if !writable {
		_ = unix.Madvise(b, unix.MADV_SEQUENTIAL)
	}
	return b, nil
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}

func msync(b []byte, async bool) error {
	flags := unix.MS_SYNC
	if async {
		flags = unix.MS_ASYNC
	}
	return unix.Msync(b, flags)
}
