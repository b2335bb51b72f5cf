package util

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression codes are stored next to compressed payloads so a reader can
// decode entries written under a different configuration.
const (
	CompressionNone   byte = 0
	CompressionGzip   byte = 1
	CompressionSnappy byte = 2
	CompressionLZ4    byte = 3
)

// CompressionCode maps a compression name to its stored code.
func CompressionCode(compressionType string) (byte, error) {
	switch compressionType {
	case "none", "":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// CompressionName is the inverse of CompressionCode.
func CompressionName(code byte) (string, error) {
	switch code {
	case CompressionNone:
		return "none", nil
	case CompressionGzip:
		return "gzip", nil
	case CompressionSnappy:
		return "snappy", nil
	case CompressionLZ4:
		return "lz4", nil
	default:
		return "", fmt.Errorf("unknown compression code: %d", code)
	}
}

// CompressMessage compresses data with the named codec.
func CompressMessage(data []byte, compressionType string) ([]byte, error) {
	switch compressionType {
	case "gzip":
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case "snappy":
		return snappy.Encode(nil, data), nil

	case "lz4":
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case "none", "":
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// DecompressMessage reverses CompressMessage.
func DecompressMessage(data []byte, compressionType string) ([]byte, error) {
	switch compressionType {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := gr.Close(); err != nil {
				Error("failed to close gzip reader: %v", err)
			}
		}()
		return io.ReadAll(gr)

	case "snappy":
		return snappy.Decode(nil, data)

	case "lz4":
		reader := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(reader)

	case "none", "":
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
