package lava

import "encoding/binary"

// A BM25 posting-list chunk stores one posting list per token in the chunk's
// term-dictionary range. Decompressed, the chunk is a sequence of
// length-prefixed u64 lists; list i belongs to the i-th token of the chunk and
// packs (uid, score) pairs flat: [uid0, score0, uid1, score1, ...].

// plistSearchCompressed decompresses a posting-list chunk once and returns the
// posting list selected by each offset. An offset is the token's distance from
// the chunk's first token (0 for the first token); the next token's postings
// terminate the previous token's list.
func plistSearchCompressed(chunk []byte, offsets []uint64) ([][]uint64, error) {
	raw, err := decompressBytes(chunk)
	if err != nil {
		return nil, err
	}

	lists, tail, err := decodePlistChunk(raw)
	if err != nil {
		return nil, err
	}
	if len(tail) != 0 {
		return nil, errDataCorruption("trailing bytes after posting-list chunk")
	}

	results := make([][]uint64, len(offsets))
	for i, off := range offsets {
		if off >= uint64(len(lists)) {
			return nil, errDataCorruption("posting-list offset beyond chunk")
		}
		results[i] = lists[off]
	}
	return results, nil
}

func decodePlistChunk(raw []byte) ([][]uint64, []byte, error) {
	if len(raw) < 8 {
		return nil, nil, parseErrf("posting-list chunk header truncated: %d bytes", len(raw))
	}
	numLists := binary.LittleEndian.Uint64(raw)
	if numLists > maxU64SeqLen {
		return nil, nil, parseErrf("posting-list chunk declares %d lists", numLists)
	}
	rest := raw[8:]

	lists := make([][]uint64, 0, numLists)
	for i := uint64(0); i < numLists; i++ {
		list, tail, err := decodeU64Seq(rest)
		if err != nil {
			return nil, nil, err
		}
		if len(list)%2 != 0 {
			return nil, nil, errDataCorruption("posting list has odd length")
		}
		lists = append(lists, list)
		rest = tail
	}
	return lists, rest, nil
}
