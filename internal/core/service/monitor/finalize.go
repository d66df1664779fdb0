package monitor

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"time"
)

func (m *monitorService) finalizeUploads(ctx context.Context, staleBefore time.Time, report *domain.ReconcileReport) error {
	ready, err := m.uow.MultipartResultRepo().FindReadyToFinalize(ctx, staleBefore)
	if err != nil {
		return fmt.Errorf("find uploads ready to finalize: %w", err)
	}

	var errs []error
	for _, upload := range ready {
		if err := m.finalize(ctx, upload, staleBefore, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// finalize completes one upload on the primary store. Only the monitor winning the claim calls the store.
func (m *monitorService) finalize(ctx context.Context, upload domain.MultipartResult, staleBefore time.Time, report *domain.ReconcileReport) error {
	logger := m.logger.With("key", upload.Key, "upload_id", upload.UploadID)

	claimed, err := m.uow.MultipartResultRepo().ClaimFinalize(ctx, upload.UploadID, staleBefore)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Debug("finalize claimed elsewhere")
		return nil
	}

	// an earlier claim may have assembled the object and then failed to record it
	if upload.Attempts > 0 {
		assembled, err := m.assembled(ctx, upload)
		if err != nil {
			return err
		}
		if assembled {
			logger.Info("object already assembled by an earlier claim")
			return m.markCompleted(ctx, upload, report)
		}
	}

	// attempts was bumped by the claim
	if upload.Attempts+1 > m.cfg.MaxAttempts {
		if err := m.abort(ctx, upload, fmt.Sprintf("finalize gave up after %d attempts", upload.Attempts)); err != nil {
			return err
		}
		report.AbortedUploads++
		return nil
	}

	parts, err := m.uow.MultipartPartRepo().List(ctx, upload.UploadID)
	if err != nil {
		return err
	}
	uploaded, err := uploadedParts(upload, parts)
	if err != nil {
		report.FinalizeFailures++
		logger.Error("ledger parts do not match the upload", "error", err)
		return nil
	}

	if err := m.primary.CompleteMultipartUpload(ctx, upload.Key, upload.UploadID, uploaded); err != nil {
		if errors.Is(err, domain.ErrUploadNotFound) {
			if assembled, statErr := m.assembled(ctx, upload); statErr == nil && assembled {
				return m.markCompleted(ctx, upload, report)
			}
		}
		// the claim goes stale and the next pass retries
		report.FinalizeFailures++
		logger.Error("complete multipart upload failed", "attempt", upload.Attempts+1, "error", err)
		return nil
	}

	return m.markCompleted(ctx, upload, report)
}

// assembled reports whether the primary store already holds the whole object
func (m *monitorService) assembled(ctx context.Context, upload domain.MultipartResult) (bool, error) {
	info, err := m.primary.StatObject(ctx, upload.Key)
	if errors.Is(err, domain.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", upload.Key, err)
	}
	return info.Size == upload.ContentLength, nil
}

func (m *monitorService) markCompleted(ctx context.Context, upload domain.MultipartResult, report *domain.ReconcileReport) error {
	err := m.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		if err := uow.MultipartResultRepo().MarkCompleted(ctx, upload.UploadID); err != nil {
			return err
		}
		return uow.MultipartPartRepo().DeleteByUpload(ctx, upload.UploadID)
	})
	if err != nil {
		return fmt.Errorf("mark upload %s completed: %w", upload.UploadID, err)
	}

	report.Finalized++
	m.logger.Info("multipart upload finalized", "key", upload.Key, "upload_id", upload.UploadID, "parts", upload.TotalParts, "length", upload.ContentLength)
	return nil
}

func uploadedParts(upload domain.MultipartResult, parts []domain.PartTask) ([]domain.UploadedPart, error) {
	if len(parts) != upload.TotalParts {
		return nil, fmt.Errorf("expected %d parts, ledger has %d", upload.TotalParts, len(parts))
	}
	uploaded := make([]domain.UploadedPart, 0, len(parts))
	for _, part := range parts {
		if part.State != domain.JobStateCompleted || part.ETag == "" {
			return nil, fmt.Errorf("part %d is %s", part.Part, part.State)
		}
		uploaded = append(uploaded, domain.UploadedPart{PartNumber: part.Part, ETag: part.ETag})
	}
	return uploaded, nil
}

// abort marks the upload failed then releases it on the primary store
func (m *monitorService) abort(ctx context.Context, upload domain.MultipartResult, detail string) error {
	err := m.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		if err := uow.MultipartResultRepo().MarkFailed(ctx, upload.UploadID, detail); err != nil {
			return err
		}
		return uow.MultipartPartRepo().DeleteByUpload(ctx, upload.UploadID)
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.primary.AbortMultipartUpload(ctx, upload.Key, upload.UploadID); err != nil {
		m.logger.Error("could not abort upload", "upload_id", upload.UploadID, "error", err)
	}
	m.logger.Warn("multipart upload aborted", "key", upload.Key, "upload_id", upload.UploadID, "reason", detail)
	return nil
}
