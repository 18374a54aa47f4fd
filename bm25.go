package lava

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/marsupialtail/rottnest/storage"
)

// bm25FileMeta is the per-file view of a BM25 index: trailer, term dictionary
// and the posting-list offsets table, loaded and validated once per query.
type bm25FileMeta struct {
	trailer     bm25Trailer
	tokenCounts []uint64

	// chunkOffsets lists absolute byte offsets of posting-list chunks in
	// ascending order, closed by a sentinel; boundaries holds the first
	// vocabulary id stored in each chunk.
	chunkOffsets []uint64
	boundaries   []uint64
}

func loadBM25Meta(ctx context.Context, r storage.Reader) (*bm25FileMeta, error) {
	trailer, err := readBM25Trailer(ctx, r)
	if err != nil {
		return nil, err
	}

	termDictBytes, err := r.ReadRange(ctx, trailer.termDictOffset, trailer.plistOffsetsOffset)
	if err != nil {
		return nil, err
	}
	tokenCounts, err := decompressU64s(termDictBytes)
	if err != nil {
		return nil, err
	}

	// The compressed offsets table runs from its offset to the trailer.
	plistTableBytes, err := r.ReadRange(ctx, trailer.plistOffsetsOffset, r.Size()-8*bm25TrailerInts)
	if err != nil {
		return nil, err
	}
	plistOffsets, err := decompressU64s(plistTableBytes)
	if err != nil {
		return nil, err
	}
	if len(plistOffsets)%2 != 0 {
		return nil, errDataCorruption("posting-list offsets table has odd length")
	}

	numChunks := len(plistOffsets) / 2
	if numChunks == 0 {
		return nil, errDataCorruption("posting-list offsets table is empty")
	}
	meta := &bm25FileMeta{
		trailer:      trailer,
		tokenCounts:  tokenCounts,
		chunkOffsets: plistOffsets[:numChunks],
		boundaries:   plistOffsets[numChunks:],
	}

	for i := 1; i < numChunks; i++ {
		if meta.chunkOffsets[i] <= meta.chunkOffsets[i-1] {
			return nil, errDataCorruption("posting-list chunk offsets not strictly increasing")
		}
		if meta.boundaries[i] < meta.boundaries[i-1] {
			return nil, errDataCorruption("term-dictionary boundaries decreasing")
		}
	}
	return meta, nil
}

// tokenCount returns the file-local occurrence count for a token, zero for ids
// beyond this file's vocabulary.
func (m *bm25FileMeta) tokenCount(token uint32) uint64 {
	if uint64(token) >= uint64(len(m.tokenCounts)) {
		return 0
	}
	return m.tokenCounts[uint64(token)]
}

// locate maps a token to its posting-list chunk and its offset within that
// chunk's token range.
func (m *bm25FileMeta) locate(token uint32) (chunkID int, offset uint64, err error) {
	t := uint64(token)
	// First boundary strictly greater than t; the chunk before it owns t.
	i := sort.Search(len(m.boundaries)-1, func(i int) bool {
		return m.boundaries[i+1] > t
	})
	if t < m.boundaries[i] {
		return 0, 0, errDataCorruption("token below first term-dictionary boundary")
	}
	return i, t - m.boundaries[i], nil
}

// chunkRange returns the byte range of a posting-list chunk. The chunk-offset
// table carries a final sentinel, so chunkID+1 is always addressable for a
// chunk that holds tokens (the last boundary belongs to the chunk before the
// sentinel).
func (m *bm25FileMeta) chunkRange(chunkID int) (from, to uint64, err error) {
	if chunkID+1 >= len(m.chunkOffsets) {
		return 0, 0, errDataCorruption("posting-list chunk id beyond offset table")
	}
	return m.chunkOffsets[chunkID], m.chunkOffsets[chunkID+1], nil
}

// tokenAtOffset pairs a query token with its offset inside a chunk.
type tokenAtOffset struct {
	token  uint32
	offset uint64
}

// searchBM25File scores one file. Chunk reads for the file are grouped so each
// chunk is fetched and decompressed exactly once regardless of how many query
// tokens hit it. Returns per-uid accumulated scores local to this file.
func searchBM25File(
	ctx context.Context,
	r storage.Reader,
	meta *bm25FileMeta,
	tokens []uint32,
	idf map[uint32]float32,
	logger *zap.Logger,
) (map[uint64]float32, error) {
	chunks := make(map[int][]tokenAtOffset)
	for _, token := range tokens {
		if meta.tokenCount(token) == 0 {
			continue
		}
		chunkID, offset, err := meta.locate(token)
		if err != nil {
			return nil, err
		}
		chunks[chunkID] = append(chunks[chunkID], tokenAtOffset{token: token, offset: offset})
	}

	scores := make(map[uint64]float32)
	for chunkID, group := range chunks {
		from, to, err := meta.chunkRange(chunkID)
		if err != nil {
			return nil, err
		}
		chunkBytes, err := r.ReadRange(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		offsets := make([]uint64, len(group))
		for i, g := range group {
			offsets[i] = g.offset
		}
		lists, err := plistSearchCompressed(chunkBytes, offsets)
		if err != nil {
			return nil, err
		}

		for i, list := range lists {
			weight := idf[group[i].token]
			for j := 0; j+1 < len(list); j += 2 {
				uid, pageScore := list[j], list[j+1]
				scores[uid] += weight * float32(pageScore)
			}
		}
		logger.Debug("scored posting-list chunk",
			zap.String("file", r.Name()),
			zap.Int("chunk", chunkID),
			zap.Int("tokens", len(group)))
	}
	return scores, nil
}
