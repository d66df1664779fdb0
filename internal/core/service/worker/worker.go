package worker

import (
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"log/slog"
)

type workerService struct {
	uow      port.UnitOfWork
	primary  port.PrimaryStore
	fallback port.FallbackOrigin
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewWorkerService creates a worker copying single objects and multipart ranges
func NewWorkerService(uow port.UnitOfWork, primary port.PrimaryStore, fallback port.FallbackOrigin, m *metrics.Metrics, logger *slog.Logger) port.WorkerService {
	return &workerService{
		uow:      uow,
		primary:  primary,
		fallback: fallback,
		metrics:  m,
		logger:   logging.Component(logger, "worker"),
	}
}
