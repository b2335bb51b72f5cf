package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// On-disk layout, version 1. All integers are big-endian.
//
//	header: magic(7) version(1) id_from(8) id_until(8) data_start(4) data_end(4)
//	record: id(8) crc32(data)(4) len(data)(4) data(len)
const (
	Magic            = "HQL_WAL"
	Version1   uint8 = 1
	HeaderSize       = 32
	RecordHeaderSize = 16

	// MinWalSize is the smallest segment capacity accepted by OpenFileSet.
	MinWalSize = 16 * 1024
)

type Header struct {
	Version   uint8
	IDFrom    uint64
	IDUntil   uint64
	DataStart uint32
	DataEnd   uint32
}

func (h Header) encode(buf []byte) {
	copy(buf[0:7], Magic)
	buf[7] = h.Version
	binary.BigEndian.PutUint64(buf[8:16], h.IDFrom)
	binary.BigEndian.PutUint64(buf[16:24], h.IDUntil)
	binary.BigEndian.PutUint32(buf[24:28], h.DataStart)
	binary.BigEndian.PutUint32(buf[28:32], h.DataEnd)
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header too short (%d bytes)", ErrFileCorrupted, len(buf))
	}
	if !bytes.Equal(buf[0:7], []byte(Magic)) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrFileCorrupted, buf[0:7])
	}
	h := Header{
		Version:   buf[7],
		IDFrom:    binary.BigEndian.Uint64(buf[8:16]),
		IDUntil:   binary.BigEndian.Uint64(buf[16:24]),
		DataStart: binary.BigEndian.Uint32(buf[24:28]),
		DataEnd:   binary.BigEndian.Uint32(buf[28:32]),
	}
	if h.Version != Version1 {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrFileCorrupted, h.Version)
	}
	return h, nil
}

// Record is one verified log entry. Data is owned and never aliases a mapping.
type Record struct {
	ID   uint64
	CRC  uint32
	Data []byte
}

// rawRecord is a view into a mapping. It must not escape the scan that produced it.
type rawRecord struct {
	id   uint64
	crc  uint32
	data []byte
	end  int // offset of the last occupied byte
}

func (r rawRecord) valid() bool {
	return crc32.ChecksumIEEE(r.data) == r.crc
}

func (r rawRecord) isZero() bool {
	return r.id == 0 && r.crc == 0 && len(r.data) == 0
}

func (r rawRecord) owned() Record {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return Record{ID: r.id, CRC: r.crc, Data: data}
}

func recordSpan(n int) int {
	return RecordHeaderSize + n
}

// putRecord writes one record at off and returns the offset of its last byte.
func putRecord(buf []byte, off int, id uint64, data []byte) int {
	binary.BigEndian.PutUint64(buf[off:off+8], id)
	binary.BigEndian.PutUint32(buf[off+8:off+12], crc32.ChecksumIEEE(data))
	binary.BigEndian.PutUint32(buf[off+12:off+16], uint32(len(data)))
	copy(buf[off+RecordHeaderSize:], data)
	return off + recordSpan(len(data)) - 1
}

func readRecordAt(buf []byte, off int) (rawRecord, error) {
	if off < 0 || off+RecordHeaderSize > len(buf) {
		return rawRecord{}, fmt.Errorf("record header at %d exceeds %d bytes", off, len(buf))
	}
	n := int(binary.BigEndian.Uint32(buf[off+12 : off+16]))
	start := off + RecordHeaderSize
	if n > len(buf)-start {
		return rawRecord{}, fmt.Errorf("record at %d claims %d bytes past capacity", off, n)
	}
	return rawRecord{
		id:   binary.BigEndian.Uint64(buf[off : off+8]),
		crc:  binary.BigEndian.Uint32(buf[off+8 : off+12]),
		data: buf[start : start+n],
		end:  start + n - 1,
	}, nil
}
