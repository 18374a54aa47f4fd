package lava

/*
## Format

A lava index file is a payload prefix followed by a fixed-size trailer of
little-endian 64-bit unsigned integers. Two layouts share this shape.

### BM25 layout

|`[Posting_List_Chunks]`|`Term_Dictionary`|`Posting_List_Offsets`|`Trailer`|
|-----------------------|-----------------|----------------------|---------|
| zstd frames           | zstd + sequence | zstd + sequence      | 24 bytes|

__`Trailer`__ : `[term_dict_offset][plist_offsets_offset][num_documents]`
at `file_size - 24`.

__`Term_Dictionary`__ : per-vocabulary-id occurrence counts, one u64 per id.

__`Posting_List_Offsets`__ : a sequence of even length. The first half holds
absolute byte offsets of the posting-list chunks in ascending order, closed by
a sentinel pointing one past the last chunk. The second half holds
term-dictionary boundaries: the non-decreasing vocabulary id of the first
token stored in each chunk, closed by a vocabulary-size sentinel. The halves
have equal length, so every chunk that holds tokens can be addressed as
`[offset[k], offset[k+1])`.

### Substring (FM-index) layout

|`Tokenizer`|`[Posting_List_Chunks]`|`[FM_Chunks]`|`Offset_Tables`|`Trailer`|
|-----------|-----------------------|-------------|---------------|---------|

__`Tokenizer`__ : `[compressed_size: u64 LE][zstd(serialized tokenizer)]` at
offset 0. Files queried together must embed byte-identical tokenizer frames.

__`Trailer`__ : `[fm_chunk_offsets_offset][posting_list_offsets_offset]
[total_counts_offset][n]` at `file_size - 32`, where `n` is the BWT length.

__`Offset_Tables`__ : three zstd-compressed sequences,
`fm_chunk_offsets` and `posting_list_offsets` of length
`ceil(n / FM_CHUNK_TOKS) + 1` each (strictly increasing byte offsets), and
`cumulative_counts` of length `|vocab|` (non-decreasing; the classic FM
C-table, `C[t]` = occurrences of tokens smaller than `t`).

All offset tables are zstd-compressed sequences of u64: a little-endian u64
count followed by that many little-endian u64 values.
*/

import (
	"context"

	"github.com/marsupialtail/rottnest/storage"
)

const (
	// FMChunkToks is the number of BWT positions covered by one FM chunk and
	// one substring posting-list chunk. Fixed by the format; readers and
	// builders must agree.
	FMChunkToks = 1 << 10

	bm25TrailerInts      = 3
	substringTrailerInts = 4
)

type bm25Trailer struct {
	termDictOffset     uint64
	plistOffsetsOffset uint64
	numDocuments       uint64
}

func readBM25Trailer(ctx context.Context, r storage.Reader) (bm25Trailer, error) {
	ints, err := r.ReadU64sFromEnd(ctx, bm25TrailerInts)
	if err != nil {
		return bm25Trailer{}, err
	}
	t := bm25Trailer{
		termDictOffset:     ints[0],
		plistOffsetsOffset: ints[1],
		numDocuments:       ints[2],
	}
	payloadEnd := r.Size() - 8*bm25TrailerInts
	if t.termDictOffset >= t.plistOffsetsOffset || t.plistOffsetsOffset >= payloadEnd {
		return bm25Trailer{}, errDataCorruption("bm25 trailer offsets out of order")
	}
	return t, nil
}

type substringTrailer struct {
	fmChunkOffsetsOffset uint64
	plistOffsetsOffset   uint64
	totalCountsOffset    uint64
	n                    uint64
}

func readSubstringTrailer(ctx context.Context, r storage.Reader) (substringTrailer, error) {
	ints, err := r.ReadU64sFromEnd(ctx, substringTrailerInts)
	if err != nil {
		return substringTrailer{}, err
	}
	t := substringTrailer{
		fmChunkOffsetsOffset: ints[0],
		plistOffsetsOffset:   ints[1],
		totalCountsOffset:    ints[2],
		n:                    ints[3],
	}
	payloadEnd := r.Size() - 8*substringTrailerInts
	if t.fmChunkOffsetsOffset >= t.plistOffsetsOffset ||
		t.plistOffsetsOffset >= t.totalCountsOffset ||
		t.totalCountsOffset >= payloadEnd {
		return substringTrailer{}, errDataCorruption("substring trailer offsets out of order")
	}
	if t.n == 0 {
		return substringTrailer{}, errDataCorruption("empty suffix array")
	}
	return t, nil
}

// numFMChunks returns ceil(n / FMChunkToks).
func numFMChunks(n uint64) uint64 {
	return (n + FMChunkToks - 1) / FMChunkToks
}
