package monitor

import (
	"back-to-origin/internal/core/domain"
	"context"
	"errors"
	"fmt"
	"time"
)

func (m *monitorService) reconcileParts(ctx context.Context, staleBefore, queuedBefore time.Time, report *domain.ReconcileReport) error {
	stale, err := m.uow.MultipartPartRepo().FindStale(ctx, staleBefore, queuedBefore)
	if err != nil {
		return fmt.Errorf("find stale parts: %w", err)
	}

	var errs []error
	// uploads already handled in this pass
	settled := make(map[string]bool)

	for _, part := range stale {
		if settled[part.UploadID] {
			continue
		}

		upload, err := m.uow.MultipartResultRepo().Find(ctx, part.UploadID)
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			errs = append(errs, err)
			continue
		}

		if upload == nil || upload.Status.IsTerminal() {
			settled[part.UploadID] = true
			if err := m.deleteOrphans(ctx, part.UploadID, report); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if part.Attempts >= m.cfg.MaxAttempts {
			settled[part.UploadID] = true
			detail := fmt.Sprintf("part %d exceeded %d attempts", part.Part, m.cfg.MaxAttempts)
			if err := m.abort(ctx, *upload, detail); err != nil {
				errs = append(errs, err)
				continue
			}
			report.AbortedUploads++
			continue
		}

		requeued, err := m.uow.MultipartPartRepo().Requeue(ctx, part.UploadID, part.Part, part.Attempts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !requeued {
			continue
		}

		task := domain.NewPartTaskMessage(part)
		task.Attempt = part.Attempts + 1
		if err := m.publisher.PublishTask(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("republish part %d of %s: %w", part.Part, part.UploadID, err))
			continue
		}
		report.RepublishedParts++
		m.logger.Info("stale part republished", "upload_id", part.UploadID, "part", part.Part, "attempt", task.Attempt, "state", part.State)
	}
	return errors.Join(errs...)
}

func (m *monitorService) deleteOrphans(ctx context.Context, uploadID string, report *domain.ReconcileReport) error {
	parts, err := m.uow.MultipartPartRepo().List(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := m.uow.MultipartPartRepo().DeleteByUpload(ctx, uploadID); err != nil {
		return err
	}
	report.DeletedOrphanParts += len(parts)
	return nil
}
