// Package metrics provides Prometheus metrics for the backfill pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "back_to_origin"

// Metrics holds the Prometheus collectors of one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Edge
	EdgeRequests    *prometheus.CounterVec
	NotifyPublished prometheus.Counter
	NotifyDropped   *prometheus.CounterVec

	// Dispatcher
	DispatchDecisions *prometheus.CounterVec

	// Workers
	WorkerOutcomes *prometheus.CounterVec
	CopiedBytes    *prometheus.CounterVec
	CopyDuration   *prometheus.HistogramVec

	// Monitor
	MonitorActions *prometheus.CounterVec
	MonitorRuns    *prometheus.CounterVec

	// Queue
	ConsumedMessages *prometheus.CounterVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EdgeRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edge_requests_total",
				Help:      "Edge requests by origin that served them",
			},
			[]string{"served_by"},
		),
		NotifyPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_published_total",
				Help:      "Backfill requests published by the edge",
			},
		),
		NotifyDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_dropped_total",
				Help:      "Backfill requests dropped by the edge",
			},
			[]string{"reason"},
		),
		DispatchDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_decisions_total",
				Help:      "Dispatcher outcomes per backfill request",
			},
			[]string{"decision"},
		),
		WorkerOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_outcomes_total",
				Help:      "Worker task outcomes",
			},
			[]string{"kind", "outcome"},
		),
		CopiedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "copied_bytes_total",
				Help:      "Bytes copied from the fallback origin to the primary store",
			},
			[]string{"kind"},
		),
		CopyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "copy_duration_seconds",
				Help:      "Time to copy one object or part",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
			},
			[]string{"kind"},
		),
		MonitorActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_actions_total",
				Help:      "Reconciliation actions taken by the monitor",
			},
			[]string{"action"},
		),
		MonitorRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_runs_total",
				Help:      "Monitor runs by result",
			},
			[]string{"result"},
		),
		ConsumedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consumed_messages_total",
				Help:      "Queue messages by settlement",
			},
			[]string{"subject", "settlement"},
		),
	}
}

// Registry returns the registry backing m
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NewServer builds an HTTP server exposing /metrics and /health on address
func (m *Metrics) NewServer(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// Serve exposes the metrics server on address until ctx is done
func (m *Metrics) Serve(ctx context.Context, address string) error {
	server := m.NewServer(address)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (m *Metrics) IncEdgeRequest(servedBy string) {
	if m == nil {
		return
	}
	m.EdgeRequests.WithLabelValues(servedBy).Inc()
}

func (m *Metrics) IncNotifyPublished() {
	if m == nil {
		return
	}
	m.NotifyPublished.Inc()
}

func (m *Metrics) IncNotifyDropped(reason string) {
	if m == nil {
		return
	}
	m.NotifyDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncDispatchDecision(decision string) {
	if m == nil {
		return
	}
	m.DispatchDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncWorkerOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.WorkerOutcomes.WithLabelValues(kind, outcome).Inc()
}

// ObserveCopy records one successful copy
func (m *Metrics) ObserveCopy(kind string, bytes int64, took time.Duration) {
	if m == nil {
		return
	}
	m.CopiedBytes.WithLabelValues(kind).Add(float64(bytes))
	m.CopyDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) AddMonitorAction(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MonitorActions.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) IncMonitorRun(result string) {
	if m == nil {
		return
	}
	m.MonitorRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) IncConsumed(subject, settlement string) {
	if m == nil {
		return
	}
	m.ConsumedMessages.WithLabelValues(subject, settlement).Inc()
}
