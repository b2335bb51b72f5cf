package raftstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/downfa11-org/raftlite/util"
	"github.com/hashicorp/raft"
)

// term(8) type(1) appended_at(8) compression(1) data_len(4) data ext_len(4) ext
const logHeaderSize = 8 + 1 + 8 + 1 + 4

var ErrBadLog = errors.New("malformed raft log")

// encodeLog serializes everything but the index, which is the record id.
// Only Data is compressed; extensions are small and stored as is.
func encodeLog(l *raft.Log, compression byte) ([]byte, error) {
	data := l.Data
	if compression != util.CompressionNone && len(data) > 0 {
		name, err := util.CompressionName(compression)
		if err != nil {
			return nil, err
		}
		if data, err = util.CompressMessage(l.Data, name); err != nil {
			return nil, fmt.Errorf("compress log %d: %w", l.Index, err)
		}
	}

	buf := make([]byte, logHeaderSize+len(data)+4+len(l.Extensions))
	binary.BigEndian.PutUint64(buf[0:8], l.Term)
	buf[8] = byte(l.Type)
	var appendedAt int64
	if !l.AppendedAt.IsZero() {
		appendedAt = l.AppendedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[9:17], uint64(appendedAt))
	buf[17] = compression
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(data)))
	off := logHeaderSize
	off += copy(buf[off:], data)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(l.Extensions)))
	copy(buf[off+4:], l.Extensions)
	return buf, nil
}

// DecodeLog parses a record written by the store back into a raft log.
func DecodeLog(index uint64, buf []byte) (*raft.Log, error) {
	var l raft.Log
	if err := decodeLog(index, buf, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func decodeLog(index uint64, buf []byte, l *raft.Log) error {
	if len(buf) < logHeaderSize+4 {
		return fmt.Errorf("%w: log %d is %d bytes", ErrBadLog, index, len(buf))
	}
	dataLen := int(binary.BigEndian.Uint32(buf[18:22]))
	if logHeaderSize+dataLen+4 > len(buf) {
		return fmt.Errorf("%w: log %d data overruns record", ErrBadLog, index)
	}
	extOff := logHeaderSize + dataLen
	extLen := int(binary.BigEndian.Uint32(buf[extOff : extOff+4]))
	if extOff+4+extLen != len(buf) {
		return fmt.Errorf("%w: log %d extensions overrun record", ErrBadLog, index)
	}

	data := buf[logHeaderSize:extOff]
	if code := buf[17]; code != util.CompressionNone && dataLen > 0 {
		name, err := util.CompressionName(code)
		if err != nil {
			return fmt.Errorf("%w: log %d: %v", ErrBadLog, index, err)
		}
		if data, err = util.DecompressMessage(data, name); err != nil {
			return fmt.Errorf("decompress log %d: %w", index, err)
		}
	}

	*l = raft.Log{
		Index: index,
		Term:  binary.BigEndian.Uint64(buf[0:8]),
		Type:  raft.LogType(buf[8]),
	}
	if dataLen > 0 {
		l.Data = data
	}
	if extLen > 0 {
		l.Extensions = buf[extOff+4 : extOff+4+extLen]
	}
	if ns := int64(binary.BigEndian.Uint64(buf[9:17])); ns != 0 {
		l.AppendedAt = time.Unix(0, ns)
	}
	return nil
}
