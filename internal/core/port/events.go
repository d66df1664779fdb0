package port

import (
	"back-to-origin/internal/core/domain"
	"context"
)

// EventConsumer is an interface to define a queue consumer (nats, kafka, ...)
type EventConsumer interface {
	Subscribe(ctx context.Context, handler MessageService) error
	Close() error
}

// MessageService is an interface to define message handling
type MessageService interface {
	HandleMessage(ctx context.Context, data []byte) error
}

// BackfillPublisher enqueues backfill requests
type BackfillPublisher interface {
	PublishBackfill(ctx context.Context, req domain.BackfillRequest) error
}

// TaskPublisher enqueues worker tasks
type TaskPublisher interface {
	PublishTask(ctx context.Context, task domain.Task) error
}

// BackfillNotifier hands a backfill request off without blocking the caller
type BackfillNotifier interface {
	Notify(req domain.BackfillRequest) bool
}
