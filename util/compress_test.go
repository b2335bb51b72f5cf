package util_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/downfa11-org/raftlite/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codecs = []string{"gzip", "snappy", "lz4", "none"}

func TestCompressionCode_RoundTrip(t *testing.T) {
	for _, name := range codecs {
		code, err := util.CompressionCode(name)
		require.NoError(t, err)

		back, err := util.CompressionName(code)
		require.NoError(t, err)
		assert.Equal(t, name, back)
	}

	code, err := util.CompressionCode("")
	require.NoError(t, err)
	assert.Equal(t, util.CompressionNone, code)

	_, err = util.CompressionCode("zstd")
	assert.Error(t, err)
	_, err = util.CompressionName(42)
	assert.Error(t, err)
}

func TestCompressDecompress(t *testing.T) {
	payloads := [][]byte{
		[]byte("a"),
		[]byte("INSERT INTO users (id, name) VALUES (1, 'alice')"),
		bytes.Repeat([]byte("raft-entry"), 1000),
		make([]byte, 10000),
	}

	for _, p := range payloads {
		for _, ct := range codecs {
			t.Run(fmt.Sprintf("%s_%dB", ct, len(p)), func(t *testing.T) {
				compressed, err := util.CompressMessage(p, ct)
				require.NoError(t, err)

				decompressed, err := util.DecompressMessage(compressed, ct)
				require.NoError(t, err)
				assert.Equal(t, p, decompressed)
			})
		}
	}
}

func TestCompressMessage_Unsupported(t *testing.T) {
	_, err := util.CompressMessage([]byte("x"), "brotli")
	assert.Error(t, err)

	_, err = util.DecompressMessage([]byte("x"), "brotli")
	assert.Error(t, err)
}

func TestCompressMessage_NonePassthrough(t *testing.T) {
	data := []byte("passthrough")
	out, err := util.CompressMessage(data, "none")
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressMessage_Garbage(t *testing.T) {
	_, err := util.DecompressMessage([]byte("definitely not gzip"), "gzip")
	assert.Error(t, err)
}

func TestConcurrentCompression(t *testing.T) {
	data := []byte("concurrent appends share codecs")

	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			ct := codecs[id%len(codecs)]
			c, err := util.CompressMessage(data, ct)
			if err != nil {
				errCh <- fmt.Errorf("compress failed (id=%d type=%s): %v", id, ct, err)
				return
			}
			d, err := util.DecompressMessage(c, ct)
			if err != nil {
				errCh <- fmt.Errorf("decompress failed (id=%d type=%s): %v", id, ct, err)
				return
			}
			if !bytes.Equal(d, data) {
				errCh <- fmt.Errorf("data mismatch (id=%d type=%s)", id, ct)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}
