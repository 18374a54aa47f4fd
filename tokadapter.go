package lava

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/marsupialtail/rottnest/storage"
	"github.com/marsupialtail/rottnest/tokenizer"
)

// skipChars are the construction-time SKIP characters: tokenizations of these
// are stripped from substring queries before search.
const skipChars = " ,.?!;:'\"()[]{}<>/\\|@#$%^&*-_=+~`"

// readEmbeddedTokenizer returns the compressed tokenizer frame a substring
// index begins with: a u64 length prefix followed by that many zstd bytes.
func readEmbeddedTokenizer(ctx context.Context, r storage.Reader) ([]byte, error) {
	header, err := r.ReadRange(ctx, 0, 8)
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint64(header)
	if size == 0 || size > r.Size()-8 {
		return nil, errDataCorruption("embedded tokenizer size out of bounds")
	}
	return r.ReadRange(ctx, 8, 8+size)
}

// loadSharedTokenizer reads the embedded tokenizer from every file and
// requires the compressed bytes to be identical across the set. The digest is
// compared first; a digest match still falls through to a byte compare.
func loadSharedTokenizer(ctx context.Context, readers []storage.Reader, logger *zap.Logger) (*tokenizer.Tokenizer, error) {
	var shared []byte
	var sharedDigest uint64
	for _, r := range readers {
		compressed, err := readEmbeddedTokenizer(ctx, r)
		if err != nil {
			return nil, err
		}
		digest := xxhash.Sum64(compressed)
		if shared == nil {
			shared = compressed
			sharedDigest = digest
			logger.Debug("embedded tokenizer",
				zap.String("file", r.Name()),
				zap.Uint64("digest", digest))
			continue
		}
		if digest != sharedDigest || !bytes.Equal(compressed, shared) {
			return nil, fmt.Errorf(
				"%w: %q embeds a different tokenizer (digest %016x vs %016x), cannot search across these files",
				ErrInconsistent, r.Name(), digest, sharedDigest)
		}
	}

	serialized, err := decompressBytes(shared)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.FromBytes(serialized)
	if err != nil {
		return nil, parseErrf("embedded tokenizer: %v", err)
	}
	return tok, nil
}

// skipTokenSet unions the tokenizations of every SKIP character standing
// alone, preceded by a space, and followed by a space.
func skipTokenSet(tok *tokenizer.Tokenizer) (map[uint32]struct{}, error) {
	skip := make(map[uint32]struct{})
	for _, c := range skipChars {
		for _, variant := range []string{string(c), " " + string(c), string(c) + " "} {
			ids, err := tok.Encode(variant, false)
			if err != nil {
				return nil, fmt.Errorf("%w: encoding skip characters: %v", ErrInternal, err)
			}
			for _, id := range ids {
				skip[id] = struct{}{}
			}
		}
	}
	return skip, nil
}

// encodeSubstringQuery lowercases the query, encodes it, and strips skip
// tokens. An empty result means the query holds nothing searchable.
func encodeSubstringQuery(tok *tokenizer.Tokenizer, query string) ([]uint32, error) {
	skip, err := skipTokenSet(tok)
	if err != nil {
		return nil, err
	}
	ids, err := tok.Encode(strings.ToLower(query), false)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding query: %v", ErrInternal, err)
	}
	kept := ids[:0]
	for _, id := range ids {
		if _, skipped := skip[id]; !skipped {
			kept = append(kept, id)
		}
	}
	return kept, nil
}
