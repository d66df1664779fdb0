package worker

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"time"
)

const kindSingle = string(domain.JobKindSingle)

func (w *workerService) CopySingle(ctx context.Context, task domain.SingleTask) error {
	logger := w.logger.With("key", task.Key, "task_id", task.ID)

	result, err := w.uow.SingleResultRepo().FindByID(ctx, task.ID)
	switch {
	case err == nil && result.ContentLength == task.ContentLength:
		logger.Debug("single copy already recorded", "status", result.Status)
		w.metrics.IncWorkerOutcome(kindSingle, "duplicate")
		return nil
	case err != nil && !errors.Is(err, domain.ErrRecordNotFound):
		return err
	}

	if err := w.uow.SingleTaskRepo().MarkInFlight(ctx, task.ID); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			logger.Info("single task no longer pending, skipping")
			w.metrics.IncWorkerOutcome(kindSingle, "duplicate")
			return nil
		}
		return err
	}

	body, err := w.fallback.Open(ctx, task.Key)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return w.failSingle(ctx, task, err)
		}
		return fmt.Errorf("open %s on fallback: %w", task.Key, err)
	}
	defer body.Close()

	start := time.Now()
	if err := w.primary.PutObject(ctx, task.Key, body, task.ContentLength, task.ContentType); err != nil {
		return fmt.Errorf("put %s on primary: %w", task.Key, err)
	}

	err = w.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		if _, err := uow.SingleResultRepo().Record(ctx, domain.SingleResult{
			ID:            task.ID,
			Key:           task.Key,
			ContentLength: task.ContentLength,
			Status:        domain.JobStateCompleted,
			CompletedAt:   time.Now(),
		}); err != nil {
			return err
		}
		return uow.SingleTaskRepo().Delete(ctx, task.ID)
	})
	if err != nil {
		return err
	}

	took := time.Since(start)
	w.metrics.ObserveCopy(kindSingle, task.ContentLength, took)
	w.metrics.IncWorkerOutcome(kindSingle, "completed")
	logger.Info("single copy completed", "length", task.ContentLength, "duration", took)
	return nil
}

// failSingle records a permanent failure, the message is acknowledged
func (w *workerService) failSingle(ctx context.Context, task domain.SingleTask, cause error) error {
	err := w.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		if _, err := uow.SingleResultRepo().Record(ctx, domain.SingleResult{
			ID:            task.ID,
			Key:           task.Key,
			ContentLength: task.ContentLength,
			Status:        domain.JobStateFailed,
			ErrorDetail:   cause.Error(),
			CompletedAt:   time.Now(),
		}); err != nil {
			return err
		}
		return uow.SingleTaskRepo().Delete(ctx, task.ID)
	})
	if err != nil {
		return err
	}

	w.metrics.IncWorkerOutcome(kindSingle, "failed")
	w.logger.Warn("single copy failed", "key", task.Key, "error", cause)
	return nil
}
