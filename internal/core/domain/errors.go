package domain

import "errors"

// ErrAlreadyExists is an error thrown when entity already exists
var ErrAlreadyExists = errors.New("already exists")

// ErrRecordNotFound is an error thrown when a ledger row is not found
var ErrRecordNotFound = errors.New("record not found")

// ErrObjectNotFound is an error thrown when an object is missing from a store
var ErrObjectNotFound = errors.New("object not found")

// ErrUploadNotFound is an error thrown when a multipart upload no longer exists on the primary store
var ErrUploadNotFound = errors.New("upload not found")

// ErrObjectTooLarge is an error thrown when an object exceeds the cacheable size
var ErrObjectTooLarge = errors.New("object too large")

// ErrInvalidTransition is an error thrown when a job state change is not allowed
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrMalformedMessage is an error thrown when a queue message can never be processed
var ErrMalformedMessage = errors.New("malformed message")

// ErrUnknownTaskKind is an error thrown when a task carries an unsupported kind
var ErrUnknownTaskKind = errors.New("unknown task kind")

// ErrUnknownContentLength is an error thrown when the fallback origin cannot tell the object size
var ErrUnknownContentLength = errors.New("unknown content length")
