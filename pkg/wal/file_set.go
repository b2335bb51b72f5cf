package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/downfa11-org/raftlite/util"
)

// WalFileSet is the ordered collection of segments backing one log. Exactly one
// segment, Files[Active], may be written to. Active always points at the last
// segment; it is kept as an index and recomputed whenever segments are removed.
type WalFileSet struct {
	BasePath string
	Files    []*WalFile
	Active   int
}

// OpenFileSet loads every segment under basePath, creating the first one when
// the directory holds none.
func OpenFileSet(basePath string, walSize uint32) (*WalFileSet, error) {
	if walSize < MinWalSize {
		return nil, fmt.Errorf("%w: wal size %d is below the minimum of %d bytes", ErrConfig, walSize, MinWalSize)
	}

	if info, err := os.Stat(basePath); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, basePath)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, basePath, err)
	}

	files, err := ListFiles(basePath)
	if err != nil {
		return nil, err
	}

	set := &WalFileSet{BasePath: basePath, Files: files}
	if err := set.finishReseed(); err != nil {
		return nil, err
	}
	if len(set.Files) == 0 {
		if _, err := set.AddFile(walSize); err != nil {
			return nil, err
		}
		return set, nil
	}

	set.Active = len(set.Files) - 1
	util.Debug("Opened %d wal segments under %s", len(set.Files), basePath)
	return set, nil
}

// ListFiles reads the header of every segment under basePath, ordered by
// sequence number. Nothing is created or mapped.
func ListFiles(basePath string) ([]*WalFile, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, fmt.Errorf("read wal directory %s: %w", basePath, err)
	}

	var files []*WalFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		f, err := OpenWalFile(filepath.Join(basePath, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].WalNo < files[j].WalNo
	})
	return files, nil
}

// finishReseed completes a purge that stopped after seeding a fresh segment but
// before unlinking the segments it replaced. Such a segment is the only way
// ids can jump forward between consecutive segments, so everything in front of
// the last forward gap is removed.
func (s *WalFileSet) finishReseed() error {
	cut := 0
	for i := 1; i < len(s.Files); i++ {
		prev, f := s.Files[i-1], s.Files[i]
		if f.WalNo != prev.WalNo+1 || prev.IsEmpty() || f.IDFrom == 0 {
			continue
		}
		if f.IDFrom > prev.IDUntil+1 {
			cut = i
		}
	}
	if cut == 0 {
		return nil
	}

	stale := s.Files[:cut]
	util.Warn("Removing %d wal segments left behind by an interrupted purge, log resumes at id %d",
		len(stale), s.Files[cut].IDFrom)
	s.Files = append([]*WalFile(nil), s.Files[cut:]...)
	return removeFiles(stale)
}

func (s *WalFileSet) ActiveFile() *WalFile {
	return s.Files[s.Active]
}

func (s *WalFileSet) nextWalNo() uint64 {
	if len(s.Files) == 0 {
		return 1
	}
	return s.Files[len(s.Files)-1].WalNo + 1
}

// AddFile allocates the next sequential segment with an empty id range and
// appends it. The first segment of a set becomes active.
func (s *WalFileSet) AddFile(size uint32) (*WalFile, error) {
	return s.addFile(size, 0)
}

func (s *WalFileSet) addFile(size uint32, seed uint64) (*WalFile, error) {
	f := newWalFile(s.BasePath, s.nextWalNo(), size, seed)
	if err := f.CreateFile(); err != nil {
		return nil, err
	}
	if err := syncDir(s.BasePath); err != nil {
		util.Warn("fsync of %s failed after creating %s: %v", s.BasePath, f.Path, err)
	}

	s.Files = append(s.Files, f)
	if len(s.Files) == 1 {
		s.Active = 0
	}
	util.Debug("Created wal segment %s", f)
	return f, nil
}

// RollOver seals the active segment and makes a freshly allocated, write-mapped
// segment seeded with the next id active.
func (s *WalFileSet) RollOver(size uint32) error {
	active := s.ActiveFile()
	if err := active.Unmap(); err != nil {
		return fmt.Errorf("seal %s: %w", active.Path, err)
	}

	seed := active.IDUntil + 1
	if active.IsEmpty() {
		seed = active.IDFrom
	}

	f, err := s.addFile(size, seed)
	if err != nil {
		return err
	}
	if err := f.MmapMut(); err != nil {
		return err
	}
	s.Active = len(s.Files) - 1
	util.Debug("Rolled over to wal segment %d seeded at id %d", f.WalNo, seed)
	return nil
}

// FirstLogID returns the lowest id physically present in the set.
func (s *WalFileSet) FirstLogID() (uint64, bool) {
	for _, f := range s.Files {
		if !f.IsEmpty() {
			return f.IDFrom, true
		}
	}
	return 0, false
}

// LastLogID returns the highest id physically present in the set.
func (s *WalFileSet) LastLogID() (uint64, bool) {
	for i := len(s.Files) - 1; i >= 0; i-- {
		if !s.Files[i].IsEmpty() {
			return s.Files[i].IDUntil, true
		}
	}
	return 0, false
}

// Overlapping returns the non-empty segments sharing at least one id with [from, until].
func (s *WalFileSet) Overlapping(from, until uint64) []*WalFile {
	var files []*WalFile
	for _, f := range s.Files {
		if f.IsEmpty() || f.IDUntil < from {
			continue
		}
		if f.IDFrom > until {
			break
		}
		files = append(files, f)
	}
	return files
}

func (s *WalFileSet) obsolete(f *WalFile, id uint64) bool {
	if f.IsEmpty() {
		return f.IDFrom < id
	}
	return f.IDUntil < id
}

// ShiftDeleteLogsUntil discards every id below id. Whole segments are
// unlinked; a straddling front segment is trimmed logically, wasting at most
// one segment of capacity. When nothing survives, a fresh segment seeded at id
// replaces the set. It returns the number of removed segments.
func (s *WalFileSet) ShiftDeleteLogsUntil(id uint64) (int, error) {
	last := len(s.Files) - 1

	if s.obsolete(s.Files[last], id) {
		size := s.Files[last].LenMax
		if err := s.ActiveFile().Unmap(); err != nil {
			return 0, err
		}
		old := s.Files
		s.Files = nil
		f := newWalFile(s.BasePath, old[last].WalNo+1, size, id)
		if err := f.CreateFile(); err != nil {
			s.Files = old
			return 0, err
		}
		s.Files, s.Active = []*WalFile{f}, 0
		mapErr := f.MmapMut()
		if err := removeFiles(old); err != nil {
			return len(old), errors.Join(mapErr, err)
		}
		if mapErr != nil {
			return len(old), mapErr
		}
		util.Debug("All wal segments below id %d obsolete, reseeded as segment %d", id, f.WalNo)
		return len(old), nil
	}

	k := 0
	for k < last && s.obsolete(s.Files[k], id) {
		k++
	}
	if k > 0 {
		removed := s.Files[:k]
		s.Files = append([]*WalFile(nil), s.Files[k:]...)
		s.Active = len(s.Files) - 1
		if err := removeFiles(removed); err != nil {
			return k, err
		}
	}

	front := s.Files[0]
	if front.IsEmpty() || id <= front.IDFrom || id > front.IDUntil {
		return k, nil
	}

	mapped := front.IsMapped()
	if !mapped {
		if err := front.Mmap(); err != nil {
			return k, err
		}
	}
	if err := front.TrimFront(id); err != nil {
		return k, err
	}
	if err := front.PersistHeader(); err != nil {
		return k, err
	}
	if !mapped {
		front.Close()
	}
	return k, nil
}

// TruncateFrom discards every id at or above id. Segments past the cut are
// unlinked and the segment keeping id-1 becomes the write-mapped active one.
// It returns the number of removed segments.
func (s *WalFileSet) TruncateFrom(id uint64) (int, error) {
	if id == 0 {
		return 0, fmt.Errorf("%w: cannot truncate from id 0", ErrOutOfRange)
	}
	lastID, ok := s.LastLogID()
	if !ok || id > lastID {
		return 0, nil
	}

	keep := 0
	for i, f := range s.Files {
		if !f.IsEmpty() && f.IDFrom < id {
			keep = i
		}
	}

	active := s.ActiveFile()
	if keep != s.Active {
		if err := active.Unmap(); err != nil {
			return 0, err
		}
	}

	removed := s.Files[keep+1:]
	s.Files = s.Files[:keep+1:keep+1]
	s.Active = keep
	if err := removeFiles(removed); err != nil {
		return len(removed), err
	}

	f := s.ActiveFile()
	if err := f.MmapMut(); err != nil {
		return len(removed), err
	}
	if err := f.TruncateAfter(id - 1); err != nil {
		return len(removed), err
	}
	if err := f.Flush(); err != nil {
		return len(removed), err
	}
	return len(removed), nil
}

// CheckIntegrity validates sequence numbers, id contiguity and per-segment
// bounds. After an unclean shutdown the active segment is write-mapped and
// scanned for orphaned records; the number adopted is returned.
func (s *WalFileSet) CheckIntegrity(isCleanStart bool) (int, error) {
	if len(s.Files) == 0 {
		return 0, fmt.Errorf("%w: empty segment set", ErrIntegrity)
	}

	for i, f := range s.Files {
		if err := checkBounds(f); err != nil {
			return 0, err
		}
		if i == 0 {
			continue
		}
		prev := s.Files[i-1]
		if f.WalNo != prev.WalNo+1 {
			return 0, fmt.Errorf("%w: segment %d follows segment %d", ErrIntegrity, f.WalNo, prev.WalNo)
		}
		if prev.IsEmpty() || f.IDFrom == 0 {
			continue
		}
		if prev.IDUntil+1 != f.IDFrom {
			return 0, fmt.Errorf("%w: segment %d ends at id %d but segment %d starts at %d",
				ErrIntegrity, prev.WalNo, prev.IDUntil, f.WalNo, f.IDFrom)
		}
	}

	if isCleanStart {
		return 0, nil
	}

	active := s.ActiveFile()
	if err := active.MmapMut(); err != nil {
		return 0, err
	}
	return active.CheckRepairDataIntegrity()
}

func checkBounds(f *WalFile) error {
	if f.IDFrom > f.IDUntil {
		return fmt.Errorf("%w: %s has id_from > id_until", ErrIntegrity, f)
	}
	if (f.DataStart == 0) != (f.DataEnd == 0) {
		return fmt.Errorf("%w: %s has only one of data_start/data_end", ErrIntegrity, f)
	}
	if f.IsEmpty() {
		return nil
	}
	if f.DataStart < HeaderSize || f.DataStart > f.DataEnd || f.DataEnd >= f.LenMax {
		return fmt.Errorf("%w: %s has data range outside capacity", ErrIntegrity, f)
	}
	if int(f.DataEnd-f.DataStart)+1 < recordSpan(0) {
		return fmt.Errorf("%w: %s data range shorter than one record", ErrIntegrity, f)
	}
	return nil
}

// Clone returns a mapping-free copy of the set's metadata for readers.
func (s *WalFileSet) Clone() *WalFileSet {
	files := make([]*WalFile, len(s.Files))
	for i, f := range s.Files {
		files[i] = f.cloneMeta()
	}
	return &WalFileSet{BasePath: s.BasePath, Files: files, Active: s.Active}
}

// Close flushes and unmaps every segment.
func (s *WalFileSet) Close() error {
	var errs []error
	for _, f := range s.Files {
		if err := f.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func removeFiles(files []*WalFile) error {
	var errs []error
	for _, f := range files {
		f.Close()
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", f.Path, err))
			continue
		}
		util.Debug("Removed wal segment %d [%d, %d]", f.WalNo, f.IDFrom, f.IDUntil)
	}
	return errors.Join(errs...)
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
