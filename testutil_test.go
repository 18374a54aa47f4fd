package lava

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/marsupialtail/rottnest/storage"
)

// memReader serves a byte slice as a storage.Reader and records every range
// it was asked for.
type memReader struct {
	uri      string
	data     []byte
	recorder *readRecorder
}

type rangeRead struct {
	uri      string
	from, to uint64
}

type readRecorder struct {
	mu    sync.Mutex
	reads []rangeRead
}

func (rec *readRecorder) record(r rangeRead) {
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.reads = append(rec.reads, r)
}

func (rec *readRecorder) recorded() []rangeRead {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]rangeRead(nil), rec.reads...)
}

func (r *memReader) ReadRange(ctx context.Context, from, to uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from >= to {
		return nil, fmt.Errorf("%w: [%d, %d)", storage.ErrInvalidRange, from, to)
	}
	if to > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: [%d, %d) beyond %d", storage.ErrInterrupted, from, to, len(r.data))
	}
	r.recorder.record(rangeRead{uri: r.uri, from: from, to: to})
	return append([]byte(nil), r.data[from:to]...), nil
}

func (r *memReader) ReadU64sFromEnd(ctx context.Context, n uint64) ([]uint64, error) {
	size := uint64(len(r.data))
	p, err := r.ReadRange(ctx, size-8*n, size)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(p[8*i:])
	}
	return out, nil
}

func (r *memReader) Size() uint64 { return uint64(len(r.data)) }

func (r *memReader) Name() string { return r.uri }

func (r *memReader) Close() error { return nil }

// memOpener returns an OpenFunc over in-memory files, recording reads if a
// recorder is given.
func memOpener(files map[string][]byte, recorder *readRecorder) OpenFunc {
	return func(ctx context.Context, uri string) (storage.Reader, error) {
		data, ok := files[uri]
		if !ok {
			return nil, fmt.Errorf("no such test file %q", uri)
		}
		return &memReader{uri: uri, data: data, recorder: recorder}, nil
	}
}
