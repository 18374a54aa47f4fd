package lava

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
)

// maxU64SeqLen bounds the element count declared by an untrusted sequence
// header so a corrupt length prefix cannot drive a huge allocation.
const maxU64SeqLen = 1 << 32

// decompressBytes streams a zstd frame into memory. Streaming matters: the
// decompressed form is routinely several multiples of the compressed range.
func decompressBytes(p []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(p), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, parseErrf("zstd init: %v", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, parseErrf("zstd decode: %v", err)
	}
	return out, nil
}

// decompressU64s decodes a zstd-compressed, length-prefixed sequence of
// little-endian 64-bit integers.
func decompressU64s(p []byte) ([]uint64, error) {
	dec, err := zstd.NewReader(bytes.NewReader(p), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, parseErrf("zstd init: %v", err)
	}
	defer dec.Close()

	var count uint64
	if err := binary.Read(dec, binary.LittleEndian, &count); err != nil {
		return nil, parseErrf("u64 sequence header: %v", err)
	}
	if count > maxU64SeqLen {
		return nil, parseErrf("u64 sequence declares %d elements", count)
	}

	out := make([]uint64, count)
	if err := binary.Read(dec, binary.LittleEndian, out); err != nil {
		return nil, parseErrf("u64 sequence body: %v", err)
	}
	return out, nil
}

// decodeU64Seq reads one length-prefixed u64 sequence from already
// decompressed bytes, returning the remaining tail.
func decodeU64Seq(p []byte) ([]uint64, []byte, error) {
	if len(p) < 8 {
		return nil, nil, parseErrf("u64 sequence header truncated: %d bytes", len(p))
	}
	count := binary.LittleEndian.Uint64(p)
	if count > maxU64SeqLen || uint64(len(p)-8) < 8*count {
		return nil, nil, parseErrf("u64 sequence truncated: %d declared, %d bytes left", count, len(p)-8)
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(p[8+8*i:])
	}
	return out, p[8+8*count:], nil
}
