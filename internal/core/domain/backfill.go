package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownContentType is sent by the edge when the fallback response carried no usable metadata (304)
const UnknownContentType = "none"

// BackfillRequest is published by the edge for every object served from the fallback origin
type BackfillRequest struct {
	URI           string `json:"uri"`
	ContentLength int64  `json:"content_length"`
	ContentType   string `json:"content_type"`
	RequestID     string `json:"request_id,omitempty"`
}

// Key returns the object key derived from the request URI
func (r BackfillRequest) Key() string {
	return strings.TrimPrefix(r.URI, "/")
}

// HasMetadata reports whether the edge observed size and type
func (r BackfillRequest) HasMetadata() bool {
	return r.ContentLength > 0 && r.ContentType != "" && r.ContentType != UnknownContentType
}

// URIRecord is the immutable stat snapshot of an object handed to backfill
type URIRecord struct {
	ID            uuid.UUID
	URI           string
	ContentLength int64
	ContentType   string
	Kind          JobKind
	JobID         string
	CreatedAt     time.Time
}

// ObjectInfo describes an object in a store
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}
