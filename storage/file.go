package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// fileReader serves ranges from a local file via ReadAt.
type fileReader struct {
	f    *os.File
	uri  string
	size uint64

	logger *zap.Logger
	closed atomic.Bool
}

func openFile(uri string, o *options) (Reader, error) {
	f, err := os.Open(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", uri, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %q: %w", uri, err)
	}
	return &fileReader{
		f:      f,
		uri:    uri,
		size:   uint64(st.Size()),
		logger: o.logger,
	}, nil
}

func (r *fileReader) ReadRange(ctx context.Context, from, to uint64) ([]byte, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("reader for %q is closed", r.uri)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(from, to, r.size); err != nil {
		return nil, err
	}

	p := make([]byte, to-from)
	var current uint64
	for current < uint64(len(p)) {
		n, err := r.f.ReadAt(p[current:], int64(from+current))
		current += uint64(n)
		if err != nil {
			if errors.Is(err, io.EOF) && current == uint64(len(p)) {
				break
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: got %d of %d bytes at %d", ErrInterrupted, current, len(p), from)
			}
			return nil, fmt.Errorf("failed to read [%d, %d) of %q: %w", from, to, r.uri, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: no progress at %d in %q", ErrInterrupted, from+current, r.uri)
		}
	}

	r.logger.Debug("read range",
		zap.String("uri", r.uri), zap.Uint64("from", from), zap.Uint64("to", to))
	return p, nil
}

func (r *fileReader) ReadU64sFromEnd(ctx context.Context, n uint64) ([]uint64, error) {
	return readU64sFromEnd(ctx, r, n)
}

func (r *fileReader) Size() uint64 { return r.size }

func (r *fileReader) Name() string { return r.uri }

func (r *fileReader) Close() error {
	if r.closed.CAS(false, true) {
		return r.f.Close()
	}
	return nil
}
