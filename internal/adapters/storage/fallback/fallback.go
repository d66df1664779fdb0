// Package fallback reads objects from the secondary origin through gocloud.dev/blob.
package fallback

import (
	"back-to-origin/internal/core/domain"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
	"gocloud.dev/gcerrors"
)

// Origin is the fallback origin bucket
type Origin struct {
	bucket *blob.Bucket
	logger *slog.Logger
}

// Open opens the bucket behind a gocloud URL (gs://bucket, s3://bucket?region=eu-west-1, file:///srv/origin)
func Open(ctx context.Context, bucketURL string, logger *slog.Logger) (*Origin, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open fallback bucket %s: %w", bucketURL, err)
	}
	return New(bucket, logger), nil
}

// New wraps an already opened bucket
func New(bucket *blob.Bucket, logger *slog.Logger) *Origin {
	return &Origin{bucket: bucket, logger: logger}
}

// Stat returns the size and content type of key
func (o *Origin) Stat(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	attrs, err := o.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, translate(err, "stat "+key)
	}
	return &domain.ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ETag:         strings.Trim(attrs.ETag, "\""),
		LastModified: attrs.ModTime,
	}, nil
}

// Open streams the whole object
func (o *Origin) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := o.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, translate(err, "read "+key)
	}
	return r, nil
}

// OpenRange streams the inclusive byte range [start, end]
func (o *Origin) OpenRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range %d-%d for %s", start, end, key)
	}
	r, err := o.bucket.NewRangeReader(ctx, key, start, end-start+1, nil)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("read %s bytes %d-%d", key, start, end))
	}
	return r, nil
}

// Close releases the bucket
func (o *Origin) Close() error {
	return o.bucket.Close()
}

func translate(err error, msg string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s: %w", msg, errors.Join(domain.ErrObjectNotFound, err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}
