package main

import (
	"back-to-origin/internal/adapters/eventbroker/nats"
	"back-to-origin/internal/adapters/repository/postgres"
	"back-to-origin/internal/adapters/storage/fallback"
	"back-to-origin/internal/adapters/storage/minio"
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/service/dispatch"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

func main() {

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Load config
	cfg, err := config.LoadDispatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log, "region", cfg.Env.Region)
	m := metrics.New()

	// Initialize database
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

	minioAdapter, err := minio.NewAdapter(ctx, cfg.Minio, logger)
	if err != nil {
		logger.Error("failed to init minio", "error", err)
		os.Exit(1)
	}

	origin, err := fallback.Open(ctx, cfg.Fallback.BucketURL, logger)
	if err != nil {
		logger.Error("failed to open fallback origin", "error", err)
		os.Exit(1)
	}
	defer origin.Close()

	publisher, err := nats.NewNATSPublisher(cfg.NATS, "dispatcher-publisher", logger)
	if err != nil {
		logger.Error("failed to connect NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Initialize services
	unitOfWork := postgres.NewUnitOfWork(db)
	dispatchService := dispatch.NewDispatchService(unitOfWork, minioAdapter, origin, publisher, cfg.Backfill, m, logger)

	// Initialize NATS consumer
	natsConsumer, err := nats.NewNATSConsumer(cfg.NATS, nats.ConsumerOptions{
		Durable: cfg.NATS.ConsumerName + "-dispatcher",
		Subject: cfg.NATS.BackfillSubject,
	}, logger, m)
	if err != nil {
		logger.Error("failed to create NATS consumer", "error", err)
		os.Exit(1)
	}

	if err := natsConsumer.Subscribe(ctx, dispatchService); err != nil {
		logger.Error("failed to subscribe to NATS", "error", err)
		os.Exit(1)
	}
	logger.Info("NATS subscription active", "subject", cfg.NATS.BackfillSubject)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Address)
		})
	}
	g.Go(func() error {
		// Wait for termination signal
		<-gctx.Done()
		logger.Info("gracefully shutting down dispatcher")
		return natsConsumer.Close()
	})

	if err := g.Wait(); err != nil {
		logger.Error("dispatcher stopped with error", "error", err)
	}
	logger.Info("dispatcher shutdown complete")
}
