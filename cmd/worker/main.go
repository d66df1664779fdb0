package main

import (
	"back-to-origin/internal/adapters/eventbroker/nats"
	"back-to-origin/internal/adapters/repository/postgres"
	"back-to-origin/internal/adapters/storage/fallback"
	"back-to-origin/internal/adapters/storage/minio"
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/core/service/worker"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"context"
	"errors"
	"fmt"
	"log/slog"
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
	cfg, err := config.LoadWorker()
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

	unitOfWork := postgres.NewUnitOfWork(db)
	workerService := worker.NewWorkerService(unitOfWork, minioAdapter, origin, m, logger)

	// one consumer per slot, each holding a single message at a time
	var consumers []*nats.Consumer

	subscribe := func(kind, subject string, slots int) error {
		for i := 0; i < max(slots, 1); i++ {
			consumer, err := nats.NewNATSConsumer(cfg.NATS, nats.ConsumerOptions{
				Durable:   cfg.NATS.ConsumerName + "-" + kind,
				Subject:   subject,
				BatchSize: 1,
			}, logger, m)
			if err != nil {
				return err
			}
			consumers = append(consumers, consumer)
			if err := consumer.Subscribe(ctx, workerService); err != nil {
				return err
			}
		}
		logger.Info("NATS subscription active", "subject", subject, "slots", max(slots, 1))
		return nil
	}

	if err := errors.Join(
		subscribe("single", cfg.NATS.SingleSubject, cfg.Worker.SingleConcurrency),
		subscribe("multipart", cfg.NATS.MultipartSubject, cfg.Worker.MultipartConcurrency),
	); err != nil {
		logger.Error("failed to subscribe to NATS", "error", err)
		for _, consumer := range consumers {
			consumer.Close()
		}
		os.Exit(1)
	}

	run(ctx, cfg.Metrics, m, consumers, logger)
}

func run(ctx context.Context, cfg config.MetricsConfig, m *metrics.Metrics, consumers []*nats.Consumer, logger *slog.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Address)
		})
	}
	for _, consumer := range consumers {
		var c port.EventConsumer = consumer
		g.Go(func() error {
			<-gctx.Done()
			return c.Close()
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
	}
	logger.Info("worker shutdown complete")
}
