package meta

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/downfa11-org/raftlite/util"
	"github.com/google/uuid"
)

const LockFileName = "lock"

// Lock is the crash marker of a log directory. It exists for as long as a
// process owns the directory; finding it at startup means the previous owner
// never shut down cleanly.
type Lock struct {
	Path      string
	SessionID string
	// Previous is the session id left behind by an unclean shutdown.
	Previous string
}

// Acquire writes a fresh marker, reporting whether the previous run ended cleanly.
func Acquire(basePath string) (*Lock, bool, error) {
	path := filepath.Join(basePath, LockFileName)
	l := &Lock{Path: path, SessionID: uuid.NewString()}

	clean := true
	prev, err := os.ReadFile(path)
	switch {
	case err == nil:
		clean = false
		l.Previous = strings.TrimSpace(string(prev))
		util.Warn("Found crash marker of session %q in %s, the last shutdown was unclean", l.Previous, basePath)
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("read crash marker %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("write crash marker %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(l.SessionID + "\n"); err != nil {
		return nil, false, fmt.Errorf("write crash marker %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return nil, false, fmt.Errorf("sync crash marker %s: %w", path, err)
	}
	return l, clean, nil
}

// Stopped reports whether basePath carries no crash marker, i.e. its last
// owner shut down cleanly or it was never opened.
func Stopped(basePath string) (bool, error) {
	_, err := os.Stat(filepath.Join(basePath, LockFileName))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, os.ErrNotExist):
		return true, nil
	default:
		return false, fmt.Errorf("stat crash marker: %w", err)
	}
}

// Release removes the marker. Call it only after everything is flushed.
func (l *Lock) Release() error {
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove crash marker %s: %w", l.Path, err)
	}
	return nil
}
