package domain

import "time"

// SingleResult is the outcome of a single shot copy
type SingleResult struct {
	ID            string
	Key           string
	ContentLength int64
	Status        JobState
	ErrorDetail   string
	CompletedAt   time.Time
}

// MultipartResult is the aggregate outcome of a multipart upload
type MultipartResult struct {
	UploadID       string
	Key            string
	ContentType    string
	ContentLength  int64
	PartSize       int64
	TotalParts     int
	CompletedParts int
	Status         JobState
	ErrorDetail    string
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllPartsDone reports whether every part has been uploaded
func (r MultipartResult) AllPartsDone() bool {
	return r.TotalParts > 0 && r.CompletedParts == r.TotalParts
}

// UploadedPart is a part acknowledged by the primary store
type UploadedPart struct {
	PartNumber int
	ETag       string
}

// ReconcileReport summarises one monitor run
type ReconcileReport struct {
	Finalized          int
	FinalizeFailures   int
	RepublishedParts   int
	RepublishedSingles int
	AbortedUploads     int
	FailedSingles      int
	DeletedOrphanParts int
}
