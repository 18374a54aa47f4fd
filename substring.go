package lava

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/marsupialtail/rottnest/storage"
)

// fmChunkCacheSize bounds the per-query FM-chunk cache. Backward search
// touches the chunks holding the interval endpoints; across steps those
// frequently coincide, so a handful of slots removes most duplicate fetches.
const fmChunkCacheSize = 8

// fmFileMeta is the per-file view of a substring index: trailer plus the three
// offset tables, loaded and validated once per query.
type fmFileMeta struct {
	trailer          substringTrailer
	fmChunkOffsets   []uint64
	plistOffsets     []uint64
	cumulativeCounts []uint64
}

func loadFMMeta(ctx context.Context, r storage.Reader) (*fmFileMeta, error) {
	trailer, err := readSubstringTrailer(ctx, r)
	if err != nil {
		return nil, err
	}

	fmTableBytes, err := r.ReadRange(ctx, trailer.fmChunkOffsetsOffset, trailer.plistOffsetsOffset)
	if err != nil {
		return nil, err
	}
	fmChunkOffsets, err := decompressU64s(fmTableBytes)
	if err != nil {
		return nil, err
	}

	plistTableBytes, err := r.ReadRange(ctx, trailer.plistOffsetsOffset, trailer.totalCountsOffset)
	if err != nil {
		return nil, err
	}
	plistOffsets, err := decompressU64s(plistTableBytes)
	if err != nil {
		return nil, err
	}

	countsBytes, err := r.ReadRange(ctx, trailer.totalCountsOffset, r.Size()-8*substringTrailerInts)
	if err != nil {
		return nil, err
	}
	cumulativeCounts, err := decompressU64s(countsBytes)
	if err != nil {
		return nil, err
	}

	wantLen := numFMChunks(trailer.n) + 1
	if uint64(len(fmChunkOffsets)) != wantLen {
		return nil, errDataCorruption("fm chunk offset table length mismatch")
	}
	if uint64(len(plistOffsets)) != wantLen {
		return nil, errDataCorruption("posting-list offset table length mismatch")
	}
	for i := 1; i < len(fmChunkOffsets); i++ {
		if fmChunkOffsets[i] <= fmChunkOffsets[i-1] {
			return nil, errDataCorruption("fm chunk offsets not strictly increasing")
		}
		if plistOffsets[i] <= plistOffsets[i-1] {
			return nil, errDataCorruption("posting-list offsets not strictly increasing")
		}
	}
	for i := 1; i < len(cumulativeCounts); i++ {
		if cumulativeCounts[i] < cumulativeCounts[i-1] {
			return nil, errDataCorruption("cumulative counts decreasing")
		}
	}

	return &fmFileMeta{
		trailer:          trailer,
		fmChunkOffsets:   fmChunkOffsets,
		plistOffsets:     plistOffsets,
		cumulativeCounts: cumulativeCounts,
	}, nil
}

// fmChunkFetcher fetches and decodes FM chunks, memoizing the most recent
// blocks for the duration of one per-file search.
type fmChunkFetcher struct {
	r     storage.Reader
	meta  *fmFileMeta
	cache *lru.Cache[uint64, *fmChunk]
}

func newFMChunkFetcher(r storage.Reader, meta *fmFileMeta) (*fmChunkFetcher, error) {
	cache, err := lru.New[uint64, *fmChunk](fmChunkCacheSize)
	if err != nil {
		return nil, err
	}
	return &fmChunkFetcher{r: r, meta: meta, cache: cache}, nil
}

func (f *fmChunkFetcher) get(ctx context.Context, chunkIdx uint64) (*fmChunk, error) {
	if c, ok := f.cache.Get(chunkIdx); ok {
		return c, nil
	}
	if chunkIdx+1 >= uint64(len(f.meta.fmChunkOffsets)) {
		return nil, errDataCorruption("fm chunk index beyond offset table")
	}
	p, err := f.r.ReadRange(ctx, f.meta.fmChunkOffsets[chunkIdx], f.meta.fmChunkOffsets[chunkIdx+1])
	if err != nil {
		return nil, err
	}
	c, err := newFMChunk(p)
	if err != nil {
		return nil, err
	}
	f.cache.Add(chunkIdx, c)
	return c, nil
}

// rank returns the number of occurrences of token in BWT positions [0, pos).
// pos may equal n; the final chunk then answers with its full span.
func (f *fmChunkFetcher) rank(ctx context.Context, token uint32, pos uint64) (uint64, error) {
	chunkIdx := pos / FMChunkToks
	local := pos % FMChunkToks
	if numChunks := numFMChunks(f.meta.trailer.n); chunkIdx >= numChunks {
		chunkIdx = numChunks - 1
		local = pos - chunkIdx*FMChunkToks
	}
	c, err := f.get(ctx, chunkIdx)
	if err != nil {
		return 0, err
	}
	return c.search(token, local), nil
}

// backwardSearch narrows the suffix-array interval [0, n) by consuming query
// tokens right to left. Returns the final half-open interval; start >= end
// means no match, and the search stops issuing reads as soon as that holds.
func backwardSearch(
	ctx context.Context,
	fetcher *fmChunkFetcher,
	meta *fmFileMeta,
	query []uint32,
	logger *zap.Logger,
) (start, end uint64, err error) {
	start, end = 0, meta.trailer.n

	for i := len(query) - 1; i >= 0; i-- {
		token := query[i]
		if uint64(token) >= uint64(len(meta.cumulativeCounts)) {
			// Token never occurs in this file's BWT.
			return 0, 0, nil
		}
		c := meta.cumulativeCounts[token]

		startRank, err := fetcher.rank(ctx, token, start)
		if err != nil {
			return 0, 0, err
		}
		endRank, err := fetcher.rank(ctx, token, end)
		if err != nil {
			return 0, 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		start = c + startRank
		end = c + endRank
		logger.Debug("backward search step",
			zap.Int("position", i),
			zap.Uint32("token", token),
			zap.Uint64("start", start),
			zap.Uint64("end", end))
		if start >= end {
			return start, end, nil
		}
	}
	return start, end, nil
}

// collectUIDs maps a non-empty suffix-array interval to document uids via the
// per-chunk posting lists. It issues one contiguous read across the chunk
// span, decompresses chunk by chunk, and stops early once more than limit
// distinct uids have been gathered.
func collectUIDs(
	ctx context.Context,
	r storage.Reader,
	meta *fmFileMeta,
	start, end uint64,
	limit int,
	logger *zap.Logger,
) (map[uint64]struct{}, error) {
	firstChunk := start / FMChunkToks
	lastChunk := (end - 1) / FMChunkToks
	totalChunks := lastChunk - firstChunk + 1
	if totalChunks > 1 {
		logger.Warn("posting-list interval spans multiple chunks",
			zap.String("file", r.Name()),
			zap.Uint64("chunks", totalChunks))
	}

	if lastChunk+1 >= uint64(len(meta.plistOffsets)) {
		return nil, errDataCorruption("posting-list chunk index beyond offset table")
	}
	spanStart := meta.plistOffsets[firstChunk]
	spanEnd := meta.plistOffsets[lastChunk+1]
	span, err := r.ReadRange(ctx, spanStart, spanEnd)
	if err != nil {
		return nil, err
	}

	uids := make(map[uint64]struct{})
	for i := uint64(0); i < totalChunks; i++ {
		chunkIdx := firstChunk + i
		from := meta.plistOffsets[chunkIdx] - spanStart
		to := meta.plistOffsets[chunkIdx+1] - spanStart
		chunkUIDs, err := decompressU64s(span[from:to])
		if err != nil {
			return nil, err
		}

		lo := uint64(0)
		hi := uint64(len(chunkUIDs))
		if i == 0 {
			lo = start % FMChunkToks
		}
		if chunkIdx == lastChunk {
			hi = end - lastChunk*FMChunkToks
		}
		if lo > hi || hi > uint64(len(chunkUIDs)) {
			return nil, errDataCorruption("posting-list slice beyond chunk")
		}
		for _, uid := range chunkUIDs[lo:hi] {
			uids[uid] = struct{}{}
		}
		if len(uids) > limit {
			break
		}
	}
	return uids, nil
}
