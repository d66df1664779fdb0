package edge

import (
	"back-to-origin/internal/core/domain"
	"net/http"
	"strconv"
	"strings"
)

// notifyBackfill runs on fallback responses before they are relayed. The response itself is never altered.
func (h *Handler) notifyBackfill(resp *http.Response) error {
	p, ok := resp.Request.Context().Value(proxiedKey{}).(proxied)
	if !ok || !p.backfill {
		return nil
	}

	req, ok := backfillRequestFrom(resp)
	if !ok {
		return nil
	}
	req.URI = "/" + p.key
	req.RequestID = p.requestID

	if !h.notifier.Notify(req) {
		h.logger.Warn("backfill request dropped", "key", p.key)
	}
	return nil
}

// backfillRequestFrom extracts what the edge saw of the object, the dispatcher stats the rest
func backfillRequestFrom(resp *http.Response) (domain.BackfillRequest, bool) {
	switch resp.StatusCode {
	case http.StatusOK:
		length := resp.ContentLength
		if length < 0 {
			length = 0
		}
		return domain.BackfillRequest{ContentLength: length, ContentType: resp.Header.Get("Content-Type")}, true
	case http.StatusPartialContent:
		return domain.BackfillRequest{
			ContentLength: totalFromContentRange(resp.Header.Get("Content-Range")),
			ContentType:   resp.Header.Get("Content-Type"),
		}, true
	case http.StatusNotModified:
		return domain.BackfillRequest{ContentType: domain.UnknownContentType}, true
	default:
		return domain.BackfillRequest{}, false
	}
}

// totalFromContentRange reads the complete length of "bytes 0-99/1234", 0 when unknown
func totalFromContentRange(value string) int64 {
	i := strings.LastIndexByte(value, '/')
	if i < 0 {
		return 0
	}
	total, err := strconv.ParseInt(strings.TrimSpace(value[i+1:]), 10, 64)
	if err != nil || total < 0 {
		return 0
	}
	return total
}

func (h *Handler) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("fallback origin unreachable", "path", r.URL.Path, "error", err)
	w.WriteHeader(http.StatusBadGateway)
}
