package monitor

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"time"
)

func (m *monitorService) reconcileSingles(ctx context.Context, staleBefore, queuedBefore time.Time, report *domain.ReconcileReport) error {
	stale, err := m.uow.SingleTaskRepo().FindStale(ctx, staleBefore, queuedBefore)
	if err != nil {
		return fmt.Errorf("find stale single tasks: %w", err)
	}

	var errs []error
	for _, task := range stale {
		if task.Attempts >= m.cfg.MaxAttempts {
			if err := m.failSingle(ctx, task); err != nil {
				errs = append(errs, err)
				continue
			}
			report.FailedSingles++
			continue
		}

		requeued, err := m.uow.SingleTaskRepo().Requeue(ctx, task.ID, task.Attempts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !requeued {
			continue
		}

		message := domain.NewSingleTaskMessage(task)
		message.Attempt = task.Attempts + 1
		if err := m.publisher.PublishTask(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("republish single task %s: %w", task.ID, err))
			continue
		}
		report.RepublishedSingles++
		m.logger.Info("stale single task republished", "task_id", task.ID, "attempt", message.Attempt, "state", task.State)
	}
	return errors.Join(errs...)
}

func (m *monitorService) failSingle(ctx context.Context, task domain.SingleTask) error {
	err := m.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		if _, err := uow.SingleResultRepo().Record(ctx, domain.SingleResult{
			ID:            task.ID,
			Key:           task.Key,
			ContentLength: task.ContentLength,
			Status:        domain.JobStateFailed,
			ErrorDetail:   fmt.Sprintf("gave up after %d attempts", task.Attempts),
			CompletedAt:   time.Now(),
		}); err != nil {
			return err
		}
		return uow.SingleTaskRepo().Delete(ctx, task.ID)
	})
	if err != nil {
		return err
	}
	m.logger.Warn("single task failed", "task_id", task.ID, "attempts", task.Attempts)
	return nil
}
