package dispatch

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"errors"
	"fmt"
)

func (d *dispatchService) planSingle(ctx context.Context, key string, length int64, contentType string) (string, []domain.Task, error) {
	task := domain.SingleTask{
		ID:            key,
		Key:           key,
		ContentLength: length,
		ContentType:   contentType,
		State:         domain.JobStatePending,
	}
	if err := d.uow.SingleTaskRepo().Create(ctx, task); err != nil {
		return "", nil, err
	}
	return task.ID, []domain.Task{domain.NewSingleTaskMessage(task)}, nil
}

// planMultipart resumes an open upload of the same object on redelivery instead of opening a new one.
// Losing the race to open the upload aborts the fresh one and returns domain.ErrAlreadyExists.
func (d *dispatchService) planMultipart(ctx context.Context, key string, length int64, contentType string) (string, []domain.Task, error) {
	active, err := d.uow.MultipartResultRepo().FindActive(ctx, key, length)
	switch {
	case err == nil:
		tasks, err := d.resumeMultipart(ctx, active.UploadID)
		return active.UploadID, tasks, err
	case !errors.Is(err, domain.ErrRecordNotFound):
		return "", nil, err
	}

	partSize := d.cfg.PartSize.Int64()

	uploadID, err := d.primary.InitMultipartUpload(ctx, key, contentType)
	if err != nil {
		return "", nil, fmt.Errorf("init multipart upload of %s: %w", key, err)
	}

	parts, err := domain.SplitParts(uploadID, key, contentType, length, partSize)
	if err != nil {
		return "", nil, err
	}

	err = d.uow.Execute(ctx, func(uow port.UnitOfWork) error {
		if err := uow.MultipartResultRepo().Create(ctx, domain.MultipartResult{
			UploadID:      uploadID,
			Key:           key,
			ContentType:   contentType,
			ContentLength: length,
			PartSize:      partSize,
			TotalParts:    len(parts),
			Status:        domain.JobStatePending,
		}); err != nil {
			return err
		}
		return uow.MultipartPartRepo().CreateMany(ctx, parts)
	})
	if err != nil {
		if abortErr := d.primary.AbortMultipartUpload(ctx, key, uploadID); abortErr != nil {
			d.logger.Error("could not abort upload after ledger failure", "key", key, "upload_id", uploadID, "error", abortErr)
		}
		return "", nil, err
	}

	tasks := make([]domain.Task, 0, len(parts))
	for _, part := range parts {
		tasks = append(tasks, domain.NewPartTaskMessage(part))
	}
	return uploadID, tasks, nil
}

func (d *dispatchService) resumeMultipart(ctx context.Context, uploadID string) ([]domain.Task, error) {
	parts, err := d.uow.MultipartPartRepo().List(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	var tasks []domain.Task
	for _, part := range parts {
		if part.State == domain.JobStateCompleted {
			continue
		}
		tasks = append(tasks, domain.NewPartTaskMessage(part))
	}
	d.logger.Info("resuming open upload", "upload_id", uploadID, "pending_parts", len(tasks))
	return tasks, nil
}
