package monitor

import (
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"log/slog"
)

type monitorService struct {
	uow       port.UnitOfWork
	primary   port.PrimaryStore
	publisher port.TaskPublisher
	cfg       config.MonitorConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewMonitorService creates the reconciliation monitor
func NewMonitorService(uow port.UnitOfWork, primary port.PrimaryStore, publisher port.TaskPublisher, cfg config.MonitorConfig, m *metrics.Metrics, logger *slog.Logger) port.MonitorService {
	return &monitorService{
		uow:       uow,
		primary:   primary,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logging.Component(logger, "monitor"),
	}
}
