package lava

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPlistChunk(t *testing.T, lists [][]uint64) []byte {
	t.Helper()
	var chunk []byte
	chunk = binary.LittleEndian.AppendUint64(chunk, uint64(len(lists)))
	for _, list := range lists {
		chunk = append(chunk, marshalU64Seq(list)...)
	}
	return zstdCompress(t, chunk)
}

func TestPlistSearchCompressed(t *testing.T) {
	chunk := buildPlistChunk(t, [][]uint64{
		{10, 1, 11, 2},
		{},
		{20, 5},
	})

	results, err := plistSearchCompressed(chunk, []uint64{0, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{
		{10, 1, 11, 2},
		{20, 5},
		{},
	}, results)
}

func TestPlistSearchCompressedOffsetBeyondChunk(t *testing.T) {
	chunk := buildPlistChunk(t, [][]uint64{{1, 2}})
	_, err := plistSearchCompressed(chunk, []uint64{1})
	assert.ErrorIs(t, err, ErrParse)
}

func TestPlistSearchCompressedOddList(t *testing.T) {
	chunk := buildPlistChunk(t, [][]uint64{{1, 2, 3}})
	_, err := plistSearchCompressed(chunk, []uint64{0})
	assert.ErrorIs(t, err, ErrParse)
}

func TestPlistSearchCompressedTrailingBytes(t *testing.T) {
	var raw []byte
	raw = binary.LittleEndian.AppendUint64(raw, 0)
	raw = append(raw, 0xFF)
	_, err := plistSearchCompressed(zstdCompress(t, raw), nil)
	assert.ErrorIs(t, err, ErrParse)
}
