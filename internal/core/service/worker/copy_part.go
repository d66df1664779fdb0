package worker

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"time"
)

const kindMultipart = string(domain.JobKindMultipart)

func (w *workerService) CopyPart(ctx context.Context, task domain.PartTask) error {
	logger := w.logger.With("key", task.Key, "upload_id", task.UploadID, "part", task.Part)

	upload, err := w.uow.MultipartResultRepo().Find(ctx, task.UploadID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			logger.Warn("part of an unknown upload, skipping")
			w.metrics.IncWorkerOutcome(kindMultipart, "orphan")
			return nil
		}
		return err
	}
	if upload.Status.IsTerminal() {
		logger.Debug("upload already terminal", "status", upload.Status)
		w.metrics.IncWorkerOutcome(kindMultipart, "duplicate")
		return nil
	}

	if err := w.uow.MultipartPartRepo().MarkInFlight(ctx, task.UploadID, task.Part); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			logger.Debug("part already completed or unknown, skipping")
			w.metrics.IncWorkerOutcome(kindMultipart, "duplicate")
			return nil
		}
		return err
	}

	body, err := w.fallback.OpenRange(ctx, task.Key, task.StartByte, task.EndByte)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return w.failUpload(ctx, *upload, err)
		}
		return fmt.Errorf("open %s [%d-%d] on fallback: %w", task.Key, task.StartByte, task.EndByte, err)
	}
	defer body.Close()

	start := time.Now()
	etag, err := w.primary.UploadPart(ctx, task.Key, task.UploadID, task.Part, body, task.Size())
	if err != nil {
		return fmt.Errorf("upload part %d of %s: %w", task.Part, task.Key, err)
	}

	var progress *domain.MultipartResult
	err = w.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		changed, err := uow.MultipartPartRepo().Complete(ctx, task.UploadID, task.Part, etag)
		if err != nil || !changed {
			return err
		}
		progress, err = uow.MultipartResultRepo().IncrementCompleted(ctx, task.UploadID)
		return err
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		logger.Warn("upload no longer accepts parts", "error", err)
		w.metrics.IncWorkerOutcome(kindMultipart, "discarded")
		return nil
	}
	if err != nil {
		return err
	}

	if progress == nil {
		w.metrics.IncWorkerOutcome(kindMultipart, "duplicate")
		return nil
	}

	took := time.Since(start)
	w.metrics.ObserveCopy(kindMultipart, task.Size(), took)
	w.metrics.IncWorkerOutcome(kindMultipart, "completed")
	logger.Info("part uploaded", "completed_parts", progress.CompletedParts, "total_parts", progress.TotalParts, "duration", took)
	if progress.AllPartsDone() {
		logger.Info("all parts uploaded, waiting for finalize")
	}
	return nil
}

// failUpload gives up on an upload whose source disappeared
func (w *workerService) failUpload(ctx context.Context, upload domain.MultipartResult, cause error) error {
	err := w.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		if err := uow.MultipartResultRepo().MarkFailed(ctx, upload.UploadID, cause.Error()); err != nil {
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

	if abortErr := w.primary.AbortMultipartUpload(ctx, upload.Key, upload.UploadID); abortErr != nil {
		w.logger.Error("could not abort upload", "upload_id", upload.UploadID, "error", abortErr)
	}
	w.metrics.IncWorkerOutcome(kindMultipart, "failed")
	w.logger.Warn("multipart copy failed", "key", upload.Key, "upload_id", upload.UploadID, "error", cause)
	return nil
}
