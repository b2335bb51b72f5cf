package raftstore

import (
	"bytes"
	"testing"
	"time"

	"github.com/downfa11-org/raftlite/util"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCodec(t *testing.T) {
	appended := time.Unix(0, 1_700_000_000_123_456_789)
	logs := map[string]*raft.Log{
		"command":    {Index: 7, Term: 3, Type: raft.LogCommand, Data: bytes.Repeat([]byte("sqlite "), 64), AppendedAt: appended},
		"empty":      {Index: 1, Term: 1, Type: raft.LogNoop},
		"extensions": {Index: 9, Term: 2, Type: raft.LogConfiguration, Data: []byte("conf"), Extensions: []byte{1, 2, 3}},
	}

	for _, code := range []byte{util.CompressionNone, util.CompressionGzip, util.CompressionSnappy, util.CompressionLZ4} {
		name, err := util.CompressionName(code)
		require.NoError(t, err)

		for kind, in := range logs {
			t.Run(name+"/"+kind, func(t *testing.T) {
				buf, err := encodeLog(in, code)
				require.NoError(t, err)

				var out raft.Log
				require.NoError(t, decodeLog(in.Index, buf, &out))
				assert.Equal(t, in.Index, out.Index)
				assert.Equal(t, in.Term, out.Term)
				assert.Equal(t, in.Type, out.Type)
				assert.Equal(t, in.Data, out.Data)
				assert.Equal(t, in.Extensions, out.Extensions)
				assert.True(t, in.AppendedAt.Equal(out.AppendedAt))
			})
		}
	}
}

func TestLogCodec_Malformed(t *testing.T) {
	buf, err := encodeLog(&raft.Log{Index: 1, Term: 1, Data: []byte("abc")}, util.CompressionNone)
	require.NoError(t, err)

	var out raft.Log
	assert.ErrorIs(t, decodeLog(1, buf[:10], &out), ErrBadLog)
	assert.ErrorIs(t, decodeLog(1, buf[:len(buf)-1], &out), ErrBadLog)
	assert.ErrorIs(t, decodeLog(1, append(buf, 0), &out), ErrBadLog)

	buf[17] = 99
	assert.ErrorIs(t, decodeLog(1, buf, &out), ErrBadLog)
}
