package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSize = 2 * 1024 * 1024

var batman = [][]byte{
	[]byte("Hello World"),
	[]byte("I am Batman!"),
	[]byte("... and not the Joker!"),
}

func newMappedFile(t *testing.T, dir string, walNo uint64, size uint32) *WalFile {
	t.Helper()
	f := newWalFile(dir, walNo, size, 0)
	require.NoError(t, f.CreateFile())
	require.NoError(t, f.MmapMut())
	return f
}

func appendAll(t *testing.T, f *WalFile, firstID uint64, payloads [][]byte) {
	t.Helper()
	for i, p := range payloads {
		require.True(t, f.HasSpace(len(p)), "no space for record %d", firstID+uint64(i))
		require.NoError(t, f.AppendLog(firstID+uint64(i), p))
	}
}

// crash drops the write mapping without writing the header, like a killed process.
func crash(t *testing.T, f *WalFile) {
	t.Helper()
	require.NoError(t, munmap(f.mmap))
	f.mmap, f.writable = nil, false
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name    string
		want    uint64
		wantErr bool
	}{
		{"0000000000000001.wal", 1, false},
		{"0000000000004711.wal", 4711, false},
		{"0000000000000000.wal", 0, true},
		{"1.wal", 0, true},
		{"000000000000000a.wal", 0, true},
		{"0000000000000001.log", 0, true},
		{"00000000000000001.wal", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFileName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFileName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, FileName(got))
		})
	}
}

func TestHeader_EncodeDecode(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := Header{Version: Version1, IDFrom: 7, IDUntil: 42, DataStart: 32, DataEnd: 4095}
	h.encode(buf)

	assert.Equal(t, []byte(Magic), buf[:7])
	got, err := decodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	bad := append([]byte(nil), buf...)
	bad[0] = 'X'
	_, err = decodeHeader(bad)
	assert.ErrorIs(t, err, ErrFileCorrupted)

	bad = append([]byte(nil), buf...)
	bad[7] = 9
	_, err = decodeHeader(bad)
	assert.ErrorIs(t, err, ErrFileCorrupted)

	_, err = decodeHeader(buf[:10])
	assert.ErrorIs(t, err, ErrFileCorrupted)
}

// Scenario: three records survive a reopen and only their own range is readable.
func TestWalFile_ReadAfterReopen(t *testing.T) {
	dir := t.TempDir()
	f := newMappedFile(t, dir, 1, testSize)
	appendAll(t, f, 1, batman)
	require.NoError(t, f.Flush())
	f.Close()

	reopened, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reopened.WalNo)
	assert.Equal(t, uint32(testSize), reopened.LenMax)
	require.NoError(t, reopened.Mmap())
	defer reopened.Close()

	logs, err := reopened.ReadLogs(1, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i, rec := range logs {
		assert.Equal(t, uint64(i+1), rec.ID)
		assert.Equal(t, batman[i], rec.Data)
	}

	_, err = reopened.ReadLogs(1, 4)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = reopened.ReadLogs(0, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = reopened.ReadLogs(3, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)

	middle, err := reopened.ReadLogs(2, 2)
	require.NoError(t, err)
	require.Len(t, middle, 1)
	assert.Equal(t, batman[1], middle[0].Data)
}

func TestWalFile_DataEndIsInclusive(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	defer f.Close()

	require.NoError(t, f.AppendLog(1, batman[0]))
	assert.Equal(t, uint32(HeaderSize), f.DataStart)
	assert.Equal(t, uint32(HeaderSize+RecordHeaderSize+len(batman[0])-1), f.DataEnd)

	firstEnd := f.DataEnd
	require.NoError(t, f.AppendLog(2, batman[1]))
	assert.Equal(t, uint32(HeaderSize), f.DataStart)
	assert.Equal(t, firstEnd+uint32(RecordHeaderSize+len(batman[1])), f.DataEnd)

	rec, err := readRecordAt(f.mmap, int(firstEnd)+1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.id)
	assert.True(t, rec.valid())
}

func TestWalFile_HasSpaceExactFit(t *testing.T) {
	size := uint32(HeaderSize + RecordHeaderSize + 10)
	f := newMappedFile(t, t.TempDir(), 1, size)
	defer f.Close()

	assert.Equal(t, RecordHeaderSize+10, f.SpaceLeft())
	assert.True(t, f.HasSpace(10))
	assert.False(t, f.HasSpace(11))

	require.NoError(t, f.AppendLog(1, []byte("0123456789")))
	assert.Equal(t, 0, f.SpaceLeft())
	assert.False(t, f.HasSpace(0))
	assert.Equal(t, size-1, f.DataEnd)

	logs, err := f.ReadLogs(1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), logs[0].Data)
}

func TestWalFile_AppendRequiresWriteMapping(t *testing.T) {
	f := newWalFile(t.TempDir(), 1, testSize, 0)
	require.NoError(t, f.CreateFile())

	assert.ErrorIs(t, f.AppendLog(1, []byte("x")), ErrNotMapped)
	_, err := f.ReadLogs(1, 1)
	assert.ErrorIs(t, err, ErrNotMapped)

	require.NoError(t, f.Mmap())
	defer f.Close()
	assert.ErrorIs(t, f.AppendLog(1, []byte("x")), ErrNotMapped)
	assert.False(t, f.IsWritable())
}

func TestWalFile_EmptyPayload(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	defer f.Close()

	require.NoError(t, f.AppendLog(1, nil))
	require.NoError(t, f.AppendLog(2, []byte("after")))

	logs, err := f.ReadLogs(1, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Empty(t, logs[0].Data)
	assert.Equal(t, []byte("after"), logs[1].Data)
}

func TestWalFile_CorruptionIsDetected(t *testing.T) {
	tests := []struct {
		name   string
		offset func(f *WalFile, second uint32) int
	}{
		{"data byte", func(f *WalFile, second uint32) int { return int(second) + RecordHeaderSize + 3 }},
		{"crc byte", func(f *WalFile, second uint32) int { return int(second) + 9 }},
		{"id byte", func(f *WalFile, second uint32) int { return int(second) + 7 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMappedFile(t, t.TempDir(), 1, testSize)
			defer f.Close()
			appendAll(t, f, 1, batman)

			second, err := f.FindOffset(2)
			require.NoError(t, err)
			f.mmap[tt.offset(f, second)] ^= 0xff

			logs, err := f.ReadLogs(1, 3)
			assert.ErrorIs(t, err, ErrIntegrity)
			assert.Nil(t, logs)

			_, err = f.CheckRepairDataIntegrity()
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestWalFile_RecordsAreOwnedCopies(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	defer f.Close()
	appendAll(t, f, 1, batman)

	logs, err := f.ReadLogs(1, 1)
	require.NoError(t, err)
	logs[0].Data[0] = 'J'

	again, err := f.ReadLogs(1, 1)
	require.NoError(t, err)
	assert.Equal(t, batman[0], again[0].Data)
}

func TestWalFile_RepairAdoptsOrphans(t *testing.T) {
	dir := t.TempDir()
	f := newMappedFile(t, dir, 1, testSize)
	appendAll(t, f, 1, batman[:2])
	require.NoError(t, f.Flush())
	appendAll(t, f, 3, [][]byte{batman[2], []byte("orphan four")})
	crash(t, f)

	reopened, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reopened.IDUntil)

	require.NoError(t, reopened.MmapMut())
	repaired, err := reopened.CheckRepairDataIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	assert.Equal(t, uint64(4), reopened.IDUntil)

	logs, err := reopened.ReadLogs(1, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("orphan four"), logs[3].Data)
	reopened.Close()

	// the repaired header is durable
	again, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), again.IDUntil)
}

func TestWalFile_RepairOnUnseededEmptySegment(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	appendAll(t, f, 100, batman)
	crash(t, f)

	reopened, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	require.True(t, reopened.IsEmpty())
	require.NoError(t, reopened.MmapMut())
	defer reopened.Close()

	repaired, err := reopened.CheckRepairDataIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 3, repaired)
	assert.Equal(t, uint64(100), reopened.IDFrom)
	assert.Equal(t, uint64(102), reopened.IDUntil)
}

func TestWalFile_RepairStopsAtFirstAnomaly(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	appendAll(t, f, 1, batman[:1])
	require.NoError(t, f.Flush())
	appendAll(t, f, 2, batman[1:])

	second, err := f.FindOffset(2)
	require.NoError(t, err)
	f.mmap[second+RecordHeaderSize] ^= 0xff
	crash(t, f)

	reopened, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	require.NoError(t, reopened.MmapMut())
	defer reopened.Close()

	repaired, err := reopened.CheckRepairDataIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
	assert.Equal(t, uint64(1), reopened.IDUntil, "record 3 is valid but sits behind a bad record")
}

func TestWalFile_RepairIgnoresOutOfOrderOrphan(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	appendAll(t, f, 1, batman[:2])
	require.NoError(t, f.Flush())
	require.NoError(t, f.AppendLog(7, []byte("from the future")))
	crash(t, f)

	reopened, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	require.NoError(t, reopened.MmapMut())
	defer reopened.Close()

	repaired, err := reopened.CheckRepairDataIntegrity()
	require.NoError(t, err)
	assert.Zero(t, repaired)
	assert.Equal(t, uint64(2), reopened.IDUntil)
}

func TestWalFile_TruncateAfterNeverResurrects(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	payloads := make([][]byte, 5)
	for i := range payloads {
		payloads[i] = []byte(fmt.Sprintf("term-1 entry %d", i+1))
	}
	appendAll(t, f, 1, payloads)

	require.NoError(t, f.TruncateAfter(2))
	assert.Equal(t, uint64(2), f.IDUntil)
	require.NoError(t, f.Flush())

	// same length as the old entry 3, so entry 4 of term 1 lines up behind it
	require.NoError(t, f.AppendLog(3, []byte("term-2 entry 3")))
	crash(t, f)

	reopened, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	require.NoError(t, reopened.MmapMut())
	defer reopened.Close()

	repaired, err := reopened.CheckRepairDataIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, uint64(3), reopened.IDUntil)

	logs, err := reopened.ReadLogs(3, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("term-2 entry 3"), logs[0].Data)
}

func TestWalFile_TruncateEverything(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	defer f.Close()
	appendAll(t, f, 5, batman)

	require.NoError(t, f.TruncateAfter(4))
	assert.True(t, f.IsEmpty())
	assert.Equal(t, uint64(5), f.IDFrom)
	assert.Equal(t, uint64(5), f.IDUntil)
	assert.Equal(t, testSize-HeaderSize, f.SpaceLeft())

	repaired, err := f.CheckRepairDataIntegrity()
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestWalFile_TrimFront(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	appendAll(t, f, 1, batman)

	require.NoError(t, f.TrimFront(3))
	assert.Equal(t, uint64(3), f.IDFrom)
	require.NoError(t, f.PersistHeader())
	f.Close()

	reopened, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	require.NoError(t, reopened.Mmap())
	defer reopened.Close()

	logs, err := reopened.ReadLogs(3, 3)
	require.NoError(t, err)
	assert.Equal(t, batman[2], logs[0].Data)
	_, err = reopened.ReadLogs(2, 3)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestWalFile_PersistHeaderWithoutWriteMapping(t *testing.T) {
	f := newMappedFile(t, t.TempDir(), 1, testSize)
	appendAll(t, f, 1, batman)
	require.NoError(t, f.Flush())
	require.NoError(t, f.Mmap())
	defer f.Close()

	require.NoError(t, f.TrimFront(2))
	require.NoError(t, f.PersistHeader())

	onDisk, err := OpenWalFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), onDisk.IDFrom)
	assert.Equal(t, f.DataStart, onDisk.DataStart)
}

func TestOpenWalFile_Errors(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, FileName(1))
	require.NoError(t, os.WriteFile(short, []byte("HQL"), 0o644))
	_, err := OpenWalFile(short)
	assert.ErrorIs(t, err, ErrFileCorrupted)

	garbage := filepath.Join(dir, FileName(2))
	require.NoError(t, os.WriteFile(garbage, make([]byte, 128), 0o644))
	_, err = OpenWalFile(garbage)
	assert.ErrorIs(t, err, ErrFileCorrupted)

	_, err = OpenWalFile(filepath.Join(dir, "segment.wal"))
	assert.ErrorIs(t, err, ErrInvalidFileName)
}
