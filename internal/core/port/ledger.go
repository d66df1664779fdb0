package port

import (
	"back-to-origin/internal/core/domain"
	"context"
	"time"
)

// URIRecordRepository stores the stat snapshot of every object handed to backfill
type URIRecordRepository interface {
	Exists(ctx context.Context, uri string, contentLength int64) (bool, error)
	Create(ctx context.Context, record domain.URIRecord) (bool, error)
}

// SingleTaskRepository is an interface to interact with pending single shot copies
type SingleTaskRepository interface {
	Create(ctx context.Context, task domain.SingleTask) error
	FindByID(ctx context.Context, id string) (*domain.SingleTask, error)
	MarkInFlight(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	FindStale(ctx context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.SingleTask, error)
	Requeue(ctx context.Context, id string, attempts int) (bool, error)
}

// SingleResultRepository records single copy outcomes, write once per id and length
type SingleResultRepository interface {
	Record(ctx context.Context, result domain.SingleResult) (bool, error)
	FindByID(ctx context.Context, id string) (*domain.SingleResult, error)
}

// MultipartResultRepository is an interface to interact with multipart upload aggregates
type MultipartResultRepository interface {
	Create(ctx context.Context, result domain.MultipartResult) error
	Find(ctx context.Context, uploadID string) (*domain.MultipartResult, error)
	FindActive(ctx context.Context, key string, contentLength int64) (*domain.MultipartResult, error)
	IncrementCompleted(ctx context.Context, uploadID string) (*domain.MultipartResult, error)
	FindReadyToFinalize(ctx context.Context, staleBefore time.Time) ([]domain.MultipartResult, error)
	ClaimFinalize(ctx context.Context, uploadID string, staleBefore time.Time) (bool, error)
	MarkCompleted(ctx context.Context, uploadID string) error
	MarkFailed(ctx context.Context, uploadID string, detail string) error
}

// MultipartPartRepository is an interface to interact with multipart part tasks
type MultipartPartRepository interface {
	CreateMany(ctx context.Context, parts []domain.PartTask) error
	Find(ctx context.Context, uploadID string, part int) (*domain.PartTask, error)
	MarkInFlight(ctx context.Context, uploadID string, part int) error
	Complete(ctx context.Context, uploadID string, part int, etag string) (bool, error)
	List(ctx context.Context, uploadID string) ([]domain.PartTask, error)
	FindStale(ctx context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.PartTask, error)
	Requeue(ctx context.Context, uploadID string, part int, attempts int) (bool, error)
	DeleteByUpload(ctx context.Context, uploadID string) error
}
