package edge

import (
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/metrics"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler serves objects from the primary store and proxies misses to the fallback origin
type Handler struct {
	primary  port.PrimaryReader
	notifier port.BackfillNotifier
	proxy    *httputil.ReverseProxy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEdgeHandler creates Handler proxying misses to origin.
// A positive timeout bounds dialing the origin and waiting for its response headers, the body streams unbounded.
func NewEdgeHandler(primary port.PrimaryReader, origin *url.URL, timeout time.Duration, notifier port.BackfillNotifier, m *metrics.Metrics, logger *slog.Logger) *Handler {
	h := &Handler{
		primary:  primary,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
		},
		Transport:      originTransport(timeout),
		ModifyResponse: h.notifyBackfill,
		ErrorHandler:   h.proxyError,
	}
	return h
}

func originTransport(timeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout <= 0 {
		return transport
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return transport
}

// Routes exposes handler routes
func (h *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/*", h.ServeObject)
	router.Head("/*", h.ServeObject)

	return router
}
