package main

import (
	"back-to-origin/internal/adapters/eventbroker/nats"
	"back-to-origin/internal/adapters/handlers/http/chi"
	"back-to-origin/internal/adapters/handlers/http/chi/edge"
	"back-to-origin/internal/adapters/storage/minio"
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/service/notify"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
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

	cfg, err := config.LoadEdge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log, "region", cfg.Env.Region)

	origin, err := url.Parse(cfg.Fallback.OriginURL)
	if err != nil {
		logger.Error("invalid fallback origin url", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	//storage
	minioAdapter, err := minio.NewAdapter(ctx, cfg.Minio, logger)
	if err != nil {
		logger.Error("failed to init minio", "error", err)
		os.Exit(1)
	}

	publisher, err := nats.NewNATSPublisher(cfg.NATS, "edge", logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	if err := publisher.EnsureStream(ctx); err != nil {
		logger.Error("failed to provision stream", "error", err)
		os.Exit(1)
	}

	notifier := notify.NewNotifier(publisher, cfg.Edge, m, logger)

	//http
	edgeHandler := edge.NewEdgeHandler(minioAdapter, origin, cfg.Fallback.Timeout, notifier, m, logger)
	router := chi.NewRouter(logger, edgeHandler, cfg.Env.Env)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting edge", "host", cfg.Server.Host, "port", cfg.Server.Port, "fallback", origin.Host)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("edge server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return notifier.Run(gctx)
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Address)
		})
	}

	g.Go(func() error {
		//wait for context cancel
		<-gctx.Done()
		logger.Info("gracefully shutting down edge")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("edge stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("edge shutdown complete")
}
