package port

import (
	"back-to-origin/internal/core/domain"
	"context"
	"time"
)

// DispatchService turns backfill requests into worker tasks
type DispatchService interface {
	MessageService
	Dispatch(ctx context.Context, req domain.BackfillRequest) error
}

// WorkerService copies objects or parts from the fallback origin to the primary store
type WorkerService interface {
	MessageService
	CopySingle(ctx context.Context, task domain.SingleTask) error
	CopyPart(ctx context.Context, task domain.PartTask) error
}

// MonitorService reconciles multipart uploads and stale tasks
type MonitorService interface {
	Reconcile(ctx context.Context, now time.Time) (domain.ReconcileReport, error)
}
