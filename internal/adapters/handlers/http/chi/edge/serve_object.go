package edge

import (
	"back-to-origin/internal/core/domain"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type proxiedKey struct{}

// proxied is attached to requests sent to the fallback origin
type proxied struct {
	key       string
	requestID string
	backfill  bool
}

// ServeObject answers from the primary store, or relays the fallback origin response on a miss
func (h *Handler) ServeObject(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	if key == "" {
		http.NotFound(w, r)
		return
	}

	body, info, err := h.primary.OpenObject(r.Context(), key)
	if err == nil {
		defer body.Close()
		h.metrics.IncEdgeRequest("primary")
		if info.ContentType != "" {
			w.Header().Set("Content-Type", info.ContentType)
		}
		if info.ETag != "" {
			w.Header().Set("ETag", `"`+strings.Trim(info.ETag, `"`)+`"`)
		}
		http.ServeContent(w, r, key, info.LastModified, body)
		return
	}

	// only a confirmed miss triggers a backfill, an unhealthy primary store is just bypassed
	backfill := errors.Is(err, domain.ErrObjectNotFound)
	if backfill {
		h.metrics.IncEdgeRequest("fallback")
	} else {
		h.metrics.IncEdgeRequest("fallback_primary_error")
		h.logger.Error("primary store unavailable, serving from fallback", "key", key, "error", err)
	}

	ctx := context.WithValue(r.Context(), proxiedKey{}, proxied{
		key:       key,
		requestID: middleware.GetReqID(r.Context()),
		backfill:  backfill,
	})
	h.proxy.ServeHTTP(w, r.WithContext(ctx))
}
