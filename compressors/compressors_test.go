package compressors

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusdoc/core"
)

func TestCompressors_RoundTrip(t *testing.T) {
	// Repetitive data so every algorithm, lz4 block included, can shrink it.
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)

	testCases := []core.CompressionType{
		core.CompressionNone,
		core.CompressionSnappy,
		core.CompressionLZ4,
		core.CompressionZSTD,
	}

	for _, ct := range testCases {
		t.Run(ct.String(), func(t *testing.T) {
			c, err := ForType(ct)
			require.NoError(t, err)
			assert.Equal(t, ct, c.Type())

			compressed, err := c.Compress(data)
			require.NoError(t, err)

			decompressed, err := c.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestForType_Unknown(t *testing.T) {
	_, err := ForType(core.CompressionType(99))
	assert.Error(t, err)
}

func TestSnappy_DecompressGarbage(t *testing.T) {
	c := NewSnappyCompressor()
	_, err := c.Decompress([]byte("not snappy data"))
	assert.Error(t, err)
}
