package lava

import (
	"encoding/binary"
	"math"
	"sort"
)

// fmChunk is one decoded FM-index rank block covering FMChunkToks BWT
// positions. For every token present it keeps the token's occurrence count in
// all chunks before this one, plus the ascending in-chunk positions of its
// occurrences. Rank queries therefore resolve against this chunk alone: the
// base count folds in the rest of the BWT prefix.
type fmChunk struct {
	occs map[uint32]fmTokenOccs
}

type fmTokenOccs struct {
	countBefore uint64
	positions   []uint64
}

// newFMChunk decompresses and decodes one FM chunk.
//
// Decompressed layout: a u64 token count, then per token
// [token][count_before_chunk][num_positions][ascending positions...],
// every field a little-endian u64. Every token occurring anywhere in the BWT
// prefix that ends with this chunk has an entry, so a token missing from the
// table has rank zero here.
func newFMChunk(p []byte) (*fmChunk, error) {
	raw, err := decompressBytes(p)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 {
		return nil, parseErrf("fm chunk header truncated: %d bytes", len(raw))
	}

	numTokens := binary.LittleEndian.Uint64(raw)
	if numTokens > maxU64SeqLen {
		return nil, parseErrf("fm chunk declares %d tokens", numTokens)
	}
	rest := raw[8:]

	c := &fmChunk{occs: make(map[uint32]fmTokenOccs, numTokens)}
	for i := uint64(0); i < numTokens; i++ {
		if len(rest) < 24 {
			return nil, errDataCorruption("fm chunk token entry truncated")
		}
		token := binary.LittleEndian.Uint64(rest)
		countBefore := binary.LittleEndian.Uint64(rest[8:])
		numPositions := binary.LittleEndian.Uint64(rest[16:])
		rest = rest[24:]

		if token > math.MaxUint32 {
			return nil, errDataCorruption("fm chunk token id beyond u32")
		}
		if numPositions > FMChunkToks || uint64(len(rest)) < 8*numPositions {
			return nil, errDataCorruption("fm chunk position list truncated")
		}

		positions := make([]uint64, numPositions)
		var prev uint64
		for j := range positions {
			pos := binary.LittleEndian.Uint64(rest[8*j:])
			if pos >= FMChunkToks {
				return nil, errDataCorruption("fm chunk position beyond block")
			}
			if j > 0 && pos <= prev {
				return nil, errDataCorruption("fm chunk positions not ascending")
			}
			positions[j] = pos
			prev = pos
		}
		rest = rest[8*numPositions:]

		c.occs[uint32(token)] = fmTokenOccs{countBefore: countBefore, positions: positions}
	}
	if len(rest) != 0 {
		return nil, errDataCorruption("trailing bytes after fm chunk")
	}
	return c, nil
}

// search returns the rank of token at the given in-chunk position: the number
// of occurrences in the BWT prefix ending at this chunk's slice position
// localPos (exclusive).
func (c *fmChunk) search(token uint32, localPos uint64) uint64 {
	occ, ok := c.occs[token]
	if !ok {
		return 0
	}
	inChunk := sort.Search(len(occ.positions), func(i int) bool {
		return occ.positions[i] >= localPos
	})
	return occ.countBefore + uint64(inChunk)
}
