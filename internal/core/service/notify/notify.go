package notify

import (
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/logging"
	"back-to-origin/internal/metrics"
	"context"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
)

// Notifier publishes backfill requests from a bounded in-process queue.
// Notify never blocks; a full queue drops the request.
type Notifier struct {
	publisher port.BackfillPublisher
	queue     chan domain.BackfillRequest
	cfg       config.EdgeConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewNotifier creates a notifier, call Run to start publishing
func NewNotifier(publisher port.BackfillPublisher, cfg config.EdgeConfig, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	size := cfg.NotifyBuffer
	if size < 1 {
		size = 1
	}
	return &Notifier{
		publisher: publisher,
		queue:     make(chan domain.BackfillRequest, size),
		cfg:       cfg,
		metrics:   m,
		logger:    logging.Component(logger, "notifier"),
	}
}

func (n *Notifier) Notify(req domain.BackfillRequest) bool {
	select {
	case n.queue <- req:
		return true
	default:
		n.metrics.IncNotifyDropped("queue_full")
		n.logger.Warn("backfill queue full, request dropped", "uri", req.URI)
		return false
	}
}

// Run publishes queued requests until ctx is done then waits for in flight publishes
func (n *Notifier) Run(ctx context.Context) error {
	workers := n.cfg.NotifyWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.work(ctx)
	}
	<-ctx.Done()
	n.wg.Wait()
	return nil
}

func (n *Notifier) work(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-n.queue:
			n.publish(ctx, req)
		}
	}
}

func (n *Notifier) publish(ctx context.Context, req domain.BackfillRequest) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.cfg.NotifyBackoff

	err := backoff.Retry(func() error {
		return n.publisher.PublishBackfill(ctx, req)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, n.cfg.NotifyRetries), ctx))
	if err != nil {
		n.metrics.IncNotifyDropped("publish_failed")
		logging.FromContext(logging.WithRequestID(ctx, req.RequestID), n.logger).
			Error("could not publish backfill request", "uri", req.URI, "error", err)
		return
	}
	n.metrics.IncNotifyPublished()
}
