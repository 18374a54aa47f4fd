package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jpillora/backoff"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const s3MaxReadAttempts = 5

// s3svc is the subset of the S3 API the reader consumes. Narrow on purpose so
// tests can substitute a fake service.
type s3svc interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
}

// s3Reader serves ranges via ranged GETs against a single object.
type s3Reader struct {
	svc    s3svc
	bucket string
	key    string
	uri    string
	size   uint64

	logger *zap.Logger
	closed atomic.Bool
}

func parseS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: malformed s3 uri %q", ErrInvalidRange, uri)
	}
	return bucket, key, nil
}

func newS3Service() (s3svc, error) {
	cfg := aws.NewConfig()
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg = cfg.WithRegion(region)
	}
	if os.Getenv("AWS_S3_FORCE_PATH_STYLE") != "" {
		cfg = cfg.WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
		Config:            *cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize aws session: %w", err)
	}
	return s3.New(sess), nil
}

func openS3(ctx context.Context, uri string, o *options) (Reader, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	svc := o.s3
	if svc == nil {
		svc, err = newS3Service()
		if err != nil {
			return nil, err
		}
	}

	head, err := svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat s3://%s/%s: %w", bucket, key, err)
	}

	return &s3Reader{
		svc:    svc,
		bucket: bucket,
		key:    key,
		uri:    uri,
		size:   uint64(aws.Int64Value(head.ContentLength)),
		logger: o.logger,
	}, nil
}

func (r *s3Reader) ReadRange(ctx context.Context, from, to uint64) ([]byte, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("reader for %q is closed", r.uri)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(from, to, r.size); err != nil {
		return nil, err
	}

	retry := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    2 * time.Second,
		Jitter: true,
	}

	p := make([]byte, to-from)
	var current uint64
	var lastErr error
	for attempt := 0; attempt < s3MaxReadAttempts; attempt++ {
		n, err := r.getRange(ctx, p[current:], from+current)
		current += n
		if current == uint64(len(p)) {
			r.logger.Debug("read range",
				zap.String("uri", r.uri), zap.Uint64("from", from), zap.Uint64("to", to),
				zap.Int("attempts", attempt+1))
			return p, nil
		}
		if err != nil && !retryableS3Error(err) {
			return nil, fmt.Errorf("failed to read [%d, %d) of %q: %w", from, to, r.uri, err)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry.Duration()):
		}
	}
	if lastErr == nil {
		lastErr = ErrInterrupted
	}
	return nil, fmt.Errorf("%w: got %d of %d bytes from %q: %v",
		ErrInterrupted, current, len(p), r.uri, lastErr)
}

// getRange issues a single ranged GET and drains as much of the body as it can.
func (r *s3Reader) getRange(ctx context.Context, p []byte, from uint64) (uint64, error) {
	out, err := r.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", from, from+uint64(len(p))-1)),
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.ReadFull(out.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		err = nil
	}
	return uint64(n), err
}

func retryableS3Error(err error) bool {
	if err == nil {
		return true // short read, worth another ranged GET
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "InvalidRange", "AccessDenied":
			return false
		}
	}
	return true
}

func (r *s3Reader) ReadU64sFromEnd(ctx context.Context, n uint64) ([]uint64, error) {
	return readU64sFromEnd(ctx, r, n)
}

func (r *s3Reader) Size() uint64 { return r.size }

func (r *s3Reader) Name() string { return r.uri }

func (r *s3Reader) Close() error {
	r.closed.Store(true)
	return nil
}
