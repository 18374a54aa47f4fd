package lava

// Test-only index builders. They write the same on-disk layout the readers
// consume: zstd-compressed length-prefixed u64 sequences, trailing offset
// tables, little-endian trailers.

import (
	"encoding/binary"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/marsupialtail/rottnest/tokenizer"
)

func zstdCompress(t *testing.T, p []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(p, nil)
}

func marshalU64Seq(values []uint64) []byte {
	out := make([]byte, 8+8*len(values))
	binary.LittleEndian.PutUint64(out, uint64(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[8+8*i:], v)
	}
	return out
}

func compressU64Seq(t *testing.T, values []uint64) []byte {
	t.Helper()
	return zstdCompress(t, marshalU64Seq(values))
}

// posting is one (uid, score) pair of a BM25 posting list.
type posting struct {
	uid   uint64
	score uint64
}

// bm25Spec describes a BM25 index to synthesize. Chunk boundaries are first
// token ids; every chunk stores one posting list per consecutive token id in
// its range, empty lists included.
type bm25Spec struct {
	vocabSize    uint64
	numDocuments uint64
	boundaries   []uint64
	postings     map[uint32][]posting
}

func buildBM25File(t *testing.T, spec bm25Spec) []byte {
	t.Helper()
	require.NotEmpty(t, spec.boundaries)
	require.Equal(t, uint64(0), spec.boundaries[0])

	tokenCounts := make([]uint64, spec.vocabSize)
	for token, plist := range spec.postings {
		for _, p := range plist {
			tokenCounts[token] += p.score
		}
	}

	var file []byte
	chunkOffsets := make([]uint64, 0, len(spec.boundaries)+1)
	for k, first := range spec.boundaries {
		last := spec.vocabSize
		if k+1 < len(spec.boundaries) {
			last = spec.boundaries[k+1]
		}

		var chunk []byte
		chunk = binary.LittleEndian.AppendUint64(chunk, last-first)
		for token := first; token < last; token++ {
			plist := spec.postings[uint32(token)]
			flat := make([]uint64, 0, 2*len(plist))
			for _, p := range plist {
				flat = append(flat, p.uid, p.score)
			}
			chunk = append(chunk, marshalU64Seq(flat)...)
		}

		chunkOffsets = append(chunkOffsets, uint64(len(file)))
		file = append(file, zstdCompress(t, chunk)...)
	}
	chunkOffsets = append(chunkOffsets, uint64(len(file)))

	termDictOffset := uint64(len(file))
	file = append(file, compressU64Seq(t, tokenCounts)...)

	plistOffsetsOffset := uint64(len(file))
	// Both halves carry a final sentinel: one past the last chunk byte, and
	// the vocabulary size.
	table := append(append([]uint64{}, chunkOffsets...), spec.boundaries...)
	table = append(table, spec.vocabSize)
	file = append(file, compressU64Seq(t, table)...)

	file = binary.LittleEndian.AppendUint64(file, termDictOffset)
	file = binary.LittleEndian.AppendUint64(file, plistOffsetsOffset)
	file = binary.LittleEndian.AppendUint64(file, spec.numDocuments)
	return file
}

// substringLayout reports where builder output landed, so tests can assert on
// which regions a query touched.
type substringLayout struct {
	plistStart uint64
	plistEnd   uint64
	n          uint64
}

// testVocabJSON builds a serialized tokenizer over the given tokens, with a
// NUL sentinel at id 0 that never appears in document text. Substring tests
// use a single-character vocabulary so document and query tokenizations align
// at every offset; characters outside the vocabulary (spaces, punctuation)
// are dropped identically on both sides.
func testVocabJSON(tokens ...string) []byte {
	quoted := make([]string, 0, len(tokens)+1)
	quoted = append(quoted, `"\u0000"`)
	for _, w := range tokens {
		quoted = append(quoted, `"`+w+`"`)
	}
	return []byte(`{"vocab":[` + strings.Join(quoted, ",") + `]}`)
}

// charVocabJSON is testVocabJSON over the lowercase ASCII letters.
func charVocabJSON() []byte {
	letters := make([]string, 26)
	for i := range letters {
		letters[i] = string(rune('a' + i))
	}
	return testVocabJSON(letters...)
}

func mustTokenizer(t *testing.T, serialized []byte) *tokenizer.Tokenizer {
	t.Helper()
	tok, err := tokenizer.FromBytes(serialized)
	require.NoError(t, err)
	return tok
}

// buildSubstringFile synthesizes an FM-index file over docs. Each document
// gets uid = its slice position; documents are separated (and the text is
// terminated) by the sentinel token 0 so matches cannot bleed across them.
func buildSubstringFile(t *testing.T, serializedTok []byte, docs []string) ([]byte, substringLayout) {
	t.Helper()
	tok := mustTokenizer(t, serializedTok)

	var text []uint32
	var owner []uint64
	for uid, doc := range docs {
		ids, err := tok.Encode(strings.ToLower(doc), false)
		require.NoError(t, err)
		require.NotEmpty(t, ids, "document %d tokenizes to nothing", uid)
		for _, id := range ids {
			text = append(text, id)
			owner = append(owner, uint64(uid))
		}
		text = append(text, 0)
		owner = append(owner, uint64(uid))
	}
	n := uint64(len(text))

	// Suffix array over cyclic rotations, straightforwardly.
	sa := make([]int, n)
	for i := range sa {
		sa[i] = i
	}
	sort.Slice(sa, func(a, b int) bool {
		ia, ib := sa[a], sa[b]
		for k := uint64(0); k < n; k++ {
			ta := text[(uint64(ia)+k)%n]
			tb := text[(uint64(ib)+k)%n]
			if ta != tb {
				return ta < tb
			}
		}
		return ia < ib
	})

	bwt := make([]uint32, n)
	plist := make([]uint64, n)
	for i, suffix := range sa {
		bwt[i] = text[(uint64(suffix)+n-1)%n]
		plist[i] = owner[suffix]
	}

	counts := make([]uint64, tok.GetVocabSize(false))
	for _, token := range text {
		counts[token]++
	}
	cumulativeCounts := make([]uint64, len(counts))
	var running uint64
	for v, c := range counts {
		cumulativeCounts[v] = running
		running += c
	}

	compressedTok := zstdCompress(t, serializedTok)
	var file []byte
	file = binary.LittleEndian.AppendUint64(file, uint64(len(compressedTok)))
	file = append(file, compressedTok...)

	numChunks := numFMChunks(n)

	plistOffsets := make([]uint64, 0, numChunks+1)
	plistStart := uint64(len(file))
	for c := uint64(0); c < numChunks; c++ {
		end := (c + 1) * FMChunkToks
		if end > n {
			end = n
		}
		plistOffsets = append(plistOffsets, uint64(len(file)))
		file = append(file, compressU64Seq(t, plist[c*FMChunkToks:end])...)
	}
	plistOffsets = append(plistOffsets, uint64(len(file)))
	plistEnd := uint64(len(file))

	fmChunkOffsets := make([]uint64, 0, numChunks+1)
	countsBefore := make(map[uint32]uint64)
	for c := uint64(0); c < numChunks; c++ {
		end := (c + 1) * FMChunkToks
		if end > n {
			end = n
		}
		positions := make(map[uint32][]uint64)
		for p := c * FMChunkToks; p < end; p++ {
			token := bwt[p]
			positions[token] = append(positions[token], p-c*FMChunkToks)
		}

		tokens := make([]uint32, 0, len(countsBefore)+len(positions))
		seen := make(map[uint32]bool)
		for token := range countsBefore {
			tokens = append(tokens, token)
			seen[token] = true
		}
		for token := range positions {
			if !seen[token] {
				tokens = append(tokens, token)
			}
		}
		sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

		var chunk []byte
		chunk = binary.LittleEndian.AppendUint64(chunk, uint64(len(tokens)))
		for _, token := range tokens {
			chunk = binary.LittleEndian.AppendUint64(chunk, uint64(token))
			chunk = binary.LittleEndian.AppendUint64(chunk, countsBefore[token])
			chunk = binary.LittleEndian.AppendUint64(chunk, uint64(len(positions[token])))
			for _, pos := range positions[token] {
				chunk = binary.LittleEndian.AppendUint64(chunk, pos)
			}
		}

		fmChunkOffsets = append(fmChunkOffsets, uint64(len(file)))
		file = append(file, zstdCompress(t, chunk)...)

		for token, pos := range positions {
			countsBefore[token] += uint64(len(pos))
		}
	}
	fmChunkOffsets = append(fmChunkOffsets, uint64(len(file)))

	fmChunkOffsetsOffset := uint64(len(file))
	file = append(file, compressU64Seq(t, fmChunkOffsets)...)
	plistOffsetsOffset := uint64(len(file))
	file = append(file, compressU64Seq(t, plistOffsets)...)
	totalCountsOffset := uint64(len(file))
	file = append(file, compressU64Seq(t, cumulativeCounts)...)

	file = binary.LittleEndian.AppendUint64(file, fmChunkOffsetsOffset)
	file = binary.LittleEndian.AppendUint64(file, plistOffsetsOffset)
	file = binary.LittleEndian.AppendUint64(file, totalCountsOffset)
	file = binary.LittleEndian.AppendUint64(file, n)

	return file, substringLayout{plistStart: plistStart, plistEnd: plistEnd, n: n}
}
