package main

import (
	"back-to-origin/internal/adapters/eventbroker/nats"
	"back-to-origin/internal/adapters/repository/postgres"
	"back-to-origin/internal/adapters/storage/minio"
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/core/service/monitor"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.LoadMonitor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log, "region", cfg.Env.Region)
	m := metrics.New()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	logger.Info("db connection established")

	//storage
	minioAdapter, err := minio.NewAdapter(ctx, cfg.Minio, logger)
	if err != nil {
		logger.Error("failed to init minio", "error", err)
		os.Exit(1)
	}

	publisher, err := nats.NewNATSPublisher(cfg.NATS, "monitor", logger)
	if err != nil {
		logger.Error("failed to connect NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	if err := publisher.EnsureStream(ctx); err != nil {
		logger.Error("failed to provision stream", "error", err)
		os.Exit(1)
	}

	unitOfWork := postgres.NewUnitOfWork(db)
	monitorService := monitor.NewMonitorService(unitOfWork, minioAdapter, publisher, cfg.Monitor, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Address)
		})
	}
	g.Go(func() error {
		initReconcileTask(gctx, monitorService, cfg.Monitor.Interval, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("monitor stopped with error", "error", err)
	}
	logger.Info("monitor shutdown complete")
}

func initReconcileTask(ctx context.Context, service port.MonitorService, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	logger.Info("reconcile task initialized", "interval", every)

	for {
		select {
		case <-ticker.C:
			logger.Debug("reconcile task starting")
			if _, err := service.Reconcile(ctx, time.Now()); err != nil {
				logger.Error("reconcile task failed", "error", err)
			}
		case <-ctx.Done():
			logger.Info("reconcile task stopped")
			return
		}
	}
}
