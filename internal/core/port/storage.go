package port

import (
	"back-to-origin/internal/core/domain"
	"context"
	"io"
)

// ReadSeekCloser is an object body that can serve range requests
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// PrimaryReader is the read side of the primary store used by the edge
type PrimaryReader interface {
	StatObject(ctx context.Context, key string) (*domain.ObjectInfo, error)
	OpenObject(ctx context.Context, key string) (ReadSeekCloser, *domain.ObjectInfo, error)
}

// PrimaryStore is an interface to define primary store interactions
type PrimaryStore interface {
	PrimaryReader
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	InitMultipartUpload(ctx context.Context, key string, contentType string) (string, error)
	UploadPart(ctx context.Context, key string, uploadID string, part int, body io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []domain.UploadedPart) error
	AbortMultipartUpload(ctx context.Context, key string, uploadID string) error
}

// FallbackOrigin is the secondary origin objects are copied from
type FallbackOrigin interface {
	Stat(ctx context.Context, key string) (*domain.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	OpenRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
}
