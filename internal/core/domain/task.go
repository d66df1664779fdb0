package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// SingleTask is a pending single shot copy of one object
type SingleTask struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	ContentLength int64     `json:"content_length"`
	ContentType   string    `json:"content_type"`
	State         JobState  `json:"-"`
	Attempts      int       `json:"-"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`
}

// PartTask is one byte range of a multipart copy
type PartTask struct {
	UploadID    string    `json:"upload_id"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Part        int       `json:"part"`
	StartByte   int64     `json:"start_byte"`
	EndByte     int64     `json:"end_byte"`
	State       JobState  `json:"-"`
	ETag        string    `json:"-"`
	Attempts    int       `json:"-"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// Size returns the number of bytes covered by the part
func (p PartTask) Size() int64 {
	return p.EndByte - p.StartByte + 1
}

// Task is the message carried by the worker queues, tagged by Kind
type Task struct {
	Kind   JobKind     `json:"kind"`
	Single *SingleTask `json:"single,omitempty"`
	Part   *PartTask   `json:"part,omitempty"`
	// Attempt is bumped by the monitor on every re-publish
	Attempt int `json:"attempt,omitempty"`
}

// NewSingleTaskMessage wraps a single task
func NewSingleTaskMessage(t SingleTask) Task {
	return Task{Kind: JobKindSingle, Single: &t}
}

// NewPartTaskMessage wraps a multipart task
func NewPartTaskMessage(t PartTask) Task {
	return Task{Kind: JobKindMultipart, Part: &t}
}

// Validate checks the variant matches its kind
func (t Task) Validate() error {
	switch t.Kind {
	case JobKindSingle:
		if t.Single == nil || t.Single.ID == "" || t.Single.Key == "" {
			return fmt.Errorf("%w: single task without id or key", ErrMalformedMessage)
		}
	case JobKindMultipart:
		if t.Part == nil || t.Part.UploadID == "" || t.Part.Part < 1 || t.Part.EndByte < t.Part.StartByte {
			return fmt.Errorf("%w: invalid part task", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTaskKind, t.Kind)
	}
	return nil
}

// DedupID identifies the task for transport level deduplication
func (t Task) DedupID() string {
	var raw string
	switch t.Kind {
	case JobKindSingle:
		raw = fmt.Sprintf("single:%s:%d:%d", t.Single.ID, t.Single.ContentLength, t.Attempt)
	case JobKindMultipart:
		raw = fmt.Sprintf("multipart:%s:%d:%d", t.Part.UploadID, t.Part.Part, t.Attempt)
	default:
		raw = string(t.Kind)
	}
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
