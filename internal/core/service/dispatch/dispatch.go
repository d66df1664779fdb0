package dispatch

import (
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"log/slog"
)

type dispatchService struct {
	uow       port.UnitOfWork
	primary   port.PrimaryStore
	fallback  port.FallbackOrigin
	publisher port.TaskPublisher
	cfg       config.BackfillConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatchService creates a new backfill dispatcher
func NewDispatchService(
	uow port.UnitOfWork,
	primary port.PrimaryStore,
	fallback port.FallbackOrigin,
	publisher port.TaskPublisher,
	cfg config.BackfillConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) port.DispatchService {
	return &dispatchService{
		uow:       uow,
		primary:   primary,
		fallback:  fallback,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logging.Component(logger, "dispatcher"),
	}
}
