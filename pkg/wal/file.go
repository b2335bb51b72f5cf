package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/downfa11-org/raftlite/util"
	"golang.org/x/exp/mmap"
)

const (
	fileNameDigits = 16
	fileExt        = ".wal"
)

// WalFile is one fixed-capacity segment holding a contiguous range of log ids.
//
// DataStart is the offset of the first record, DataEnd the offset of the last
// occupied byte (inclusive). Both are 0 while the segment holds no records.
// IDFrom/IDUntil may still be seeded on an empty segment after a rollover, in
// which case they name the next id this segment expects.
type WalFile struct {
	Version   uint8
	WalNo     uint64
	Path      string
	IDFrom    uint64
	IDUntil   uint64
	DataStart uint32
	DataEnd   uint32
	LenMax    uint32

	mmap     []byte
	writable bool
}

func FileName(walNo uint64) string {
	return fmt.Sprintf("%016d%s", walNo, fileExt)
}

// ParseFileName extracts the sequence number from a %016d.wal file name.
func ParseFileName(name string) (uint64, error) {
	if len(name) != fileNameDigits+len(fileExt) || filepath.Ext(name) != fileExt {
		return 0, fmt.Errorf("%w: %s", ErrInvalidFileName, name)
	}
	digits := name[:fileNameDigits]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %s", ErrInvalidFileName, name)
		}
	}
	walNo, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || walNo == 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidFileName, name)
	}
	return walNo, nil
}

func newWalFile(basePath string, walNo uint64, lenMax uint32, seed uint64) *WalFile {
	return &WalFile{
		Version: Version1,
		WalNo:   walNo,
		Path:    filepath.Join(basePath, FileName(walNo)),
		IDFrom:  seed,
		IDUntil: seed,
		LenMax:  lenMax,
	}
}

// OpenWalFile reads the header of an existing segment without keeping a mapping.
func OpenWalFile(path string) (*WalFile, error) {
	walNo, err := ParseFileName(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			util.Error("failed to close header reader for %s: %v", path, err)
		}
	}()

	if r.Len() < HeaderSize {
		return nil, fmt.Errorf("%w: %s is only %d bytes", ErrFileCorrupted, path, r.Len())
	}
	buf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &WalFile{
		Version:   h.Version,
		WalNo:     walNo,
		Path:      path,
		IDFrom:    h.IDFrom,
		IDUntil:   h.IDUntil,
		DataStart: h.DataStart,
		DataEnd:   h.DataEnd,
		LenMax:    uint32(r.Len()),
	}, nil
}

func (w *WalFile) header() Header {
	return Header{
		Version:   w.Version,
		IDFrom:    w.IDFrom,
		IDUntil:   w.IDUntil,
		DataStart: w.DataStart,
		DataEnd:   w.DataEnd,
	}
}

// CreateFile allocates LenMax zeroed bytes on disk and writes the header.
func (w *WalFile) CreateFile() error {
	f, err := os.OpenFile(w.Path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", w.Path, err)
	}
	defer f.Close()

	if err := allocate(f, int64(w.LenMax)); err != nil {
		return fmt.Errorf("allocate segment %s: %w", w.Path, err)
	}

	buf := make([]byte, HeaderSize)
	w.header().encode(buf)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write header %s: %w", w.Path, err)
	}
	return f.Sync()
}

func (w *WalFile) IsEmpty() bool {
	return w.DataStart == 0
}

func (w *WalFile) IsMapped() bool {
	return w.mmap != nil
}

func (w *WalFile) IsWritable() bool {
	return w.mmap != nil && w.writable
}

func (w *WalFile) nextOffset() uint32 {
	if w.DataEnd == 0 {
		return HeaderSize
	}
	return w.DataEnd + 1
}

// SpaceLeft is the number of raw bytes between the tail and LenMax.
func (w *WalFile) SpaceLeft() int {
	return int(w.LenMax) - int(w.nextOffset())
}

// HasSpace reports whether a record carrying n payload bytes still fits.
func (w *WalFile) HasSpace(n int) bool {
	return recordSpan(n) <= w.SpaceLeft()
}

// Mmap establishes a read-only mapping, dropping a write mapping first.
func (w *WalFile) Mmap() error {
	if w.mmap != nil {
		if !w.writable {
			return nil
		}
		if err := w.Unmap(); err != nil {
			return err
		}
	}
	b, err := mmapFile(w.Path, int(w.LenMax), false)
	if err != nil {
		return err
	}
	w.mmap, w.writable = b, false
	return nil
}

// MmapMut establishes a read-write mapping, dropping a read mapping first.
func (w *WalFile) MmapMut() error {
	if w.mmap != nil {
		if w.writable {
			return nil
		}
		if err := w.Unmap(); err != nil {
			return err
		}
	}
	b, err := mmapFile(w.Path, int(w.LenMax), true)
	if err != nil {
		return err
	}
	w.mmap, w.writable = b, true
	return nil
}

// Unmap releases the mapping. A write mapping is flushed synchronously first.
func (w *WalFile) Unmap() error {
	if w.mmap == nil {
		return nil
	}
	var flushErr error
	if w.writable {
		flushErr = w.Flush()
	}
	if err := munmap(w.mmap); err != nil {
		return fmt.Errorf("munmap %s: %w", w.Path, err)
	}
	w.mmap, w.writable = nil, false
	return flushErr
}

// Close is Unmap with errors logged instead of returned.
func (w *WalFile) Close() {
	if err := w.Unmap(); err != nil {
		util.Error("closing segment %s: %v", w.Path, err)
	}
}

// WriteHeader copies the in-memory header into the write mapping.
func (w *WalFile) WriteHeader() error {
	if !w.IsWritable() {
		return fmt.Errorf("%w: %s is not writable", ErrNotMapped, w.Path)
	}
	w.header().encode(w.mmap[:HeaderSize])
	return nil
}

func (w *WalFile) Flush() error {
	return w.flush(false)
}

func (w *WalFile) FlushAsync() error {
	return w.flush(true)
}

func (w *WalFile) flush(async bool) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := msync(w.mmap, async); err != nil {
		return fmt.Errorf("msync %s: %w", w.Path, err)
	}
	return nil
}

// PersistHeader makes the in-memory header durable whatever mapping is open.
func (w *WalFile) PersistHeader() error {
	if w.IsWritable() {
		return w.Flush()
	}

	f, err := os.OpenFile(w.Path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s for header update: %w", w.Path, err)
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	w.header().encode(buf)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write header %s: %w", w.Path, err)
	}
	return f.Sync()
}

// AppendLog writes one record at the tail. The caller must have checked
// HasSpace(len(data)); nothing is rolled back on a short mapping.
//
// The 16 bytes after the new tail are zeroed when they fit, so a repair scan
// always stops at the true tail instead of running into stale records left
// behind by a truncation.
func (w *WalFile) AppendLog(id uint64, data []byte) error {
	if !w.IsWritable() {
		return fmt.Errorf("%w: %s is not writable", ErrNotMapped, w.Path)
	}

	off := w.nextOffset()
	end := putRecord(w.mmap, int(off), id, data)

	if w.DataStart == 0 {
		w.DataStart = off
		w.IDFrom = id
	}
	w.IDUntil = id
	w.DataEnd = uint32(end)

	w.clearTail()
	return nil
}

func (w *WalFile) clearTail() {
	next := int(w.nextOffset())
	if next+RecordHeaderSize <= len(w.mmap) {
		clear(w.mmap[next : next+RecordHeaderSize])
	}
}

// scan walks [DataStart, DataEnd] verifying CRCs and id order, calling fn for
// each record until fn returns false.
func (w *WalFile) scan(fn func(rec rawRecord, off uint32) bool) error {
	if w.mmap == nil {
		return fmt.Errorf("%w: %s", ErrNotMapped, w.Path)
	}
	if w.IsEmpty() {
		return nil
	}

	off := w.DataStart
	expected := w.IDFrom
	for {
		rec, err := readRecordAt(w.mmap, int(off))
		if err != nil {
			return fmt.Errorf("%w: segment %d: %v", ErrIntegrity, w.WalNo, err)
		}
		if rec.end > int(w.DataEnd) {
			return fmt.Errorf("%w: segment %d: record %d ends at %d past data end %d",
				ErrIntegrity, w.WalNo, rec.id, rec.end, w.DataEnd)
		}
		if !rec.valid() {
			return fmt.Errorf("%w: segment %d: crc mismatch for record %d at offset %d",
				ErrIntegrity, w.WalNo, rec.id, off)
		}
		if rec.id != expected {
			return fmt.Errorf("%w: segment %d: expected id %d, found %d at offset %d",
				ErrIntegrity, w.WalNo, expected, rec.id, off)
		}
		if !fn(rec, off) {
			return nil
		}
		if rec.end == int(w.DataEnd) {
			if rec.id != w.IDUntil {
				return fmt.Errorf("%w: segment %d: data ends at id %d, header says %d",
					ErrIntegrity, w.WalNo, rec.id, w.IDUntil)
			}
			return nil
		}
		off = uint32(rec.end + 1)
		expected++
	}
}

// ReadLogs returns the verified records with ids in [from, until].
func (w *WalFile) ReadLogs(from, until uint64) ([]Record, error) {
	if w.mmap == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotMapped, w.Path)
	}
	if until < from {
		return nil, fmt.Errorf("%w: until %d < from %d", ErrOutOfRange, until, from)
	}
	if w.IsEmpty() || from < w.IDFrom || until > w.IDUntil {
		return nil, fmt.Errorf("%w: [%d, %d] outside segment %d holding [%d, %d]",
			ErrOutOfRange, from, until, w.WalNo, w.IDFrom, w.IDUntil)
	}

	logs := make([]Record, 0, until-from+1)
	err := w.scan(func(rec rawRecord, _ uint32) bool {
		if rec.id >= from {
			logs = append(logs, rec.owned())
		}
		return rec.id < until
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// FindOffset returns the offset of record id.
func (w *WalFile) FindOffset(id uint64) (uint32, error) {
	if w.IsEmpty() || id < w.IDFrom || id > w.IDUntil {
		return 0, fmt.Errorf("%w: id %d not in segment %d", ErrOutOfRange, id, w.WalNo)
	}
	var found uint32
	err := w.scan(func(rec rawRecord, off uint32) bool {
		if rec.id == id {
			found = off
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return found, nil
}

// TrimFront logically drops every id below id by moving DataStart. The header
// is not persisted.
func (w *WalFile) TrimFront(id uint64) error {
	if id <= w.IDFrom {
		return nil
	}
	off, err := w.FindOffset(id)
	if err != nil {
		return err
	}
	w.DataStart = off
	w.IDFrom = id
	return nil
}

// TruncateAfter logically drops every id above keep. A keep below IDFrom
// empties the segment and seeds it with keep+1. Requires a write mapping; the
// header is not persisted.
func (w *WalFile) TruncateAfter(keep uint64) error {
	if !w.IsWritable() {
		return fmt.Errorf("%w: %s is not writable", ErrNotMapped, w.Path)
	}
	if w.IsEmpty() || keep >= w.IDUntil {
		return nil
	}

	if keep < w.IDFrom {
		start := int(w.DataStart)
		w.DataStart, w.DataEnd = 0, 0
		w.IDFrom, w.IDUntil = keep+1, keep+1
		clear(w.mmap[start : start+RecordHeaderSize])
		w.clearTail()
		return nil
	}

	off, err := w.FindOffset(keep)
	if err != nil {
		return err
	}
	rec, err := readRecordAt(w.mmap, int(off))
	if err != nil {
		return fmt.Errorf("%w: segment %d: %v", ErrIntegrity, w.WalNo, err)
	}
	w.IDUntil = keep
	w.DataEnd = uint32(rec.end)
	w.clearTail()
	return nil
}

// CheckRepairDataIntegrity verifies the recorded data range and then looks past
// DataEnd for records whose header update never landed before a crash. Valid,
// correctly ordered orphans are adopted; the first anomaly ends the scan
// without error. It returns the number of adopted records.
func (w *WalFile) CheckRepairDataIntegrity() (int, error) {
	if !w.IsWritable() {
		return 0, fmt.Errorf("%w: %s is not writable", ErrNotMapped, w.Path)
	}
	if err := w.scan(func(rawRecord, uint32) bool { return true }); err != nil {
		return 0, err
	}

	repaired := 0
	for {
		off := w.nextOffset()
		if int(off)+RecordHeaderSize > len(w.mmap) {
			break
		}
		rec, err := readRecordAt(w.mmap, int(off))
		if err != nil {
			util.Info("segment %d: orphan scan stopped at offset %d: %v", w.WalNo, off, err)
			break
		}
		if rec.isZero() {
			break
		}
		if !rec.valid() {
			util.Info("segment %d: orphan record %d at offset %d has a bad crc, leaving it", w.WalNo, rec.id, off)
			break
		}
		if !w.expects(rec.id) {
			util.Info("segment %d: orphan record %d at offset %d is out of order, leaving it", w.WalNo, rec.id, off)
			break
		}

		if w.DataStart == 0 {
			w.DataStart = off
			w.IDFrom = rec.id
		}
		w.IDUntil = rec.id
		w.DataEnd = uint32(rec.end)
		if err := w.WriteHeader(); err != nil {
			return repaired, err
		}
		repaired++
	}

	if repaired > 0 {
		util.Warn("segment %d: adopted %d orphan records, ids now [%d, %d]", w.WalNo, repaired, w.IDFrom, w.IDUntil)
		if err := w.Flush(); err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}

func (w *WalFile) expects(id uint64) bool {
	if id == 0 {
		return false
	}
	if !w.IsEmpty() {
		return id == w.IDUntil+1
	}
	// an unseeded segment has never learned where the log starts
	return w.IDFrom == 0 || id == w.IDFrom
}

// cloneMeta copies the metadata without the mapping.
func (w *WalFile) cloneMeta() *WalFile {
	c := *w
	c.mmap, c.writable = nil, false
	return &c
}

// SyncMeta adopts the metadata of other, keeping the current mapping.
func (w *WalFile) SyncMeta(other *WalFile) {
	w.Version = other.Version
	w.IDFrom, w.IDUntil = other.IDFrom, other.IDUntil
	w.DataStart, w.DataEnd = other.DataStart, other.DataEnd
	w.LenMax = other.LenMax
}

func (w *WalFile) String() string {
	return fmt.Sprintf("segment %d [%d, %d] data=[%d, %d] cap=%d", w.WalNo, w.IDFrom, w.IDUntil, w.DataStart, w.DataEnd, w.LenMax)
}
