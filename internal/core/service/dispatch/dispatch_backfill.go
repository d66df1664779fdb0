package dispatch

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/logging"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (d *dispatchService) Dispatch(ctx context.Context, req domain.BackfillRequest) error {
	key := req.Key()
	if key == "" {
		return fmt.Errorf("%w: empty uri", domain.ErrMalformedMessage)
	}

	ctx = logging.WithRequestID(ctx, req.RequestID)
	logger := logging.FromContext(ctx, d.logger).With("key", key)

	// the edge may only have seen a 304 or a range, the fallback is the source of truth
	info, err := d.fallback.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}
	if req.HasMetadata() && req.ContentLength != info.Size {
		logger.Warn("edge and fallback disagree on length", "edge_length", req.ContentLength, "fallback_length", info.Size)
	}

	contentType := info.ContentType
	if contentType == "" && req.ContentType != domain.UnknownContentType {
		contentType = req.ContentType
	}

	exists, err := d.uow.URIRecordRepo().Exists(ctx, key, info.Size)
	if err != nil {
		return err
	}
	if exists {
		logger.Debug("object already handed to backfill", "length", info.Size)
		d.metrics.IncDispatchDecision("duplicate")
		return nil
	}

	if info.Size > d.cfg.MaxObjectSize.Int64() {
		logger.Warn("object exceeds the cacheable size", "length", info.Size, "max", d.cfg.MaxObjectSize.String())
		d.metrics.IncDispatchDecision("too_large")
		return nil
	}

	kind := domain.ChooseKind(info.Size, d.cfg.SingleMaxSize.Int64())

	var jobID string
	var tasks []domain.Task
	switch kind {
	case domain.JobKindSingle:
		jobID, tasks, err = d.planSingle(ctx, key, info.Size, contentType)
	default:
		jobID, tasks, err = d.planMultipart(ctx, key, info.Size, contentType)
	}
	if errors.Is(err, domain.ErrAlreadyExists) {
		logger.Info("object is being dispatched by another consumer", "length", info.Size)
		d.metrics.IncDispatchDecision("duplicate")
		return nil
	}
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if err := d.publisher.PublishTask(ctx, task); err != nil {
			return fmt.Errorf("publish %s task for %s: %w", kind, key, err)
		}
	}

	if _, err := d.uow.URIRecordRepo().Create(ctx, domain.URIRecord{
		ID:            uuid.New(),
		URI:           key,
		ContentLength: info.Size,
		ContentType:   contentType,
		Kind:          kind,
		JobID:         jobID,
		CreatedAt:     time.Now(),
	}); err != nil {
		return err
	}

	d.metrics.IncDispatchDecision(string(kind))
	logger.Info("backfill dispatched", "kind", kind, "job_id", jobID, "length", info.Size, "tasks", len(tasks))
	return nil
}
