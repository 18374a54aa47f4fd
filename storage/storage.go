// Package storage provides byte-range readers over index files stored on a
// local filesystem or on S3-compatible object storage.
//
// Backends are resolved once, at open time, from the URI scheme:
//
//	s3://bucket/key/...  object storage
//	anything else        filesystem path relative to the working directory
//
// Credentials, region and endpoint for object storage come from the standard
// AWS environment; there is no in-process configuration beyond that.
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultBufferSize is 4 MiB. The readers in this package do not buffer:
// each ReadRange fetches exactly the requested range, and nothing in the
// package reads this constant.
const DefaultBufferSize = 4 << 20

var (
	// ErrInvalidRange is returned when a requested range is empty or inverted.
	ErrInvalidRange = errors.New("storage: invalid range")
	// ErrInterrupted is returned when a read persistently stops short of the
	// requested length.
	ErrInterrupted = errors.New("storage: interrupted read")
)

// Reader is a random-access view of a single index file.
//
// Implementations are safe for use from a single goroutine; a query owns its
// reader and does not share it between tasks.
type Reader interface {
	// ReadRange returns exactly to-from bytes starting at absolute offset
	// from. Short reads are retried internally at the advanced position.
	ReadRange(ctx context.Context, from, to uint64) ([]byte, error)

	// ReadU64sFromEnd reads n little-endian 64-bit integers that terminate
	// the file, in file order.
	ReadU64sFromEnd(ctx context.Context, n uint64) ([]uint64, error)

	// Size returns the total object length in bytes.
	Size() uint64

	// Name returns the URI the reader was opened with.
	Name() string

	Close() error
}

// ObjectInfo describes a stat'ed object.
type ObjectInfo struct {
	ContentLength uint64
}

// IsS3 reports whether the URI addresses object storage.
func IsS3(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// Open resolves the backend for uri and returns a Reader positioned over the
// whole object. The object is stat'ed as part of opening.
func Open(ctx context.Context, uri string, opts ...Option) (Reader, error) {
	o := applyOptions(opts)
	if IsS3(uri) {
		return openS3(ctx, uri, o)
	}
	return openFile(uri, o)
}

// Stat returns object metadata without keeping a reader open.
func Stat(ctx context.Context, uri string, opts ...Option) (ObjectInfo, error) {
	r, err := Open(ctx, uri, opts...)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer func() { _ = r.Close() }()
	return ObjectInfo{ContentLength: r.Size()}, nil
}

// Option configures readers returned by Open.
type Option func(*options)

type options struct {
	logger *zap.Logger
	s3     s3svc
}

func applyOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// WithLogger attaches a logger to the reader.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithS3Client overrides the S3 service client. Mainly useful for tests.
func WithS3Client(svc s3svc) Option {
	return func(o *options) { o.s3 = svc }
}

func checkRange(from, to, size uint64) error {
	if from >= to {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, from, to)
	}
	if to > size {
		return fmt.Errorf("%w: [%d, %d) beyond object end %d", ErrInterrupted, from, to, size)
	}
	return nil
}

// readU64sFromEnd is the shared trailer decode used by both backends.
func readU64sFromEnd(ctx context.Context, r Reader, n uint64) ([]uint64, error) {
	size := r.Size()
	if n == 0 || 8*n > size {
		return nil, fmt.Errorf("%w: %d trailing integers of a %d byte object", ErrInvalidRange, n, size)
	}
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
