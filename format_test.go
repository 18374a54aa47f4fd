package lava

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBM25Trailer(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint64(data[40:], 10) // term dict
	binary.LittleEndian.PutUint64(data[48:], 20) // plist offsets
	binary.LittleEndian.PutUint64(data[56:], 7)  // documents

	trailer, err := readBM25Trailer(context.Background(), openMem(t, data))
	require.NoError(t, err)
	assert.Equal(t, bm25Trailer{termDictOffset: 10, plistOffsetsOffset: 20, numDocuments: 7}, trailer)
}

func TestReadBM25TrailerOutOfOrder(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint64(data[40:], 30)
	binary.LittleEndian.PutUint64(data[48:], 20)
	binary.LittleEndian.PutUint64(data[56:], 7)

	_, err := readBM25Trailer(context.Background(), openMem(t, data))
	assert.ErrorIs(t, err, ErrParse)
}

func TestReadSubstringTrailer(t *testing.T) {
	data := make([]byte, 96)
	binary.LittleEndian.PutUint64(data[64:], 10)
	binary.LittleEndian.PutUint64(data[72:], 20)
	binary.LittleEndian.PutUint64(data[80:], 30)
	binary.LittleEndian.PutUint64(data[88:], 5000)

	trailer, err := readSubstringTrailer(context.Background(), openMem(t, data))
	require.NoError(t, err)
	assert.Equal(t, substringTrailer{
		fmChunkOffsetsOffset: 10,
		plistOffsetsOffset:   20,
		totalCountsOffset:    30,
		n:                    5000,
	}, trailer)
}

func TestReadSubstringTrailerRejectsZeroN(t *testing.T) {
	data := make([]byte, 96)
	binary.LittleEndian.PutUint64(data[64:], 10)
	binary.LittleEndian.PutUint64(data[72:], 20)
	binary.LittleEndian.PutUint64(data[80:], 30)

	_, err := readSubstringTrailer(context.Background(), openMem(t, data))
	assert.ErrorIs(t, err, ErrParse)
}

func TestNumFMChunks(t *testing.T) {
	assert.Equal(t, uint64(1), numFMChunks(1))
	assert.Equal(t, uint64(1), numFMChunks(FMChunkToks))
	assert.Equal(t, uint64(2), numFMChunks(FMChunkToks+1))
	assert.Equal(t, uint64(2), numFMChunks(2*FMChunkToks))
}
