package models

import (
	"errors"
	"fmt"
)

// RejectReason identifies why the ingestion gate refused a request.
type RejectReason string

const (
	NoFileProvided      RejectReason = "no_file_provided"
	UnsupportedMimeType RejectReason = "unsupported_mime_type"
	FileTooLarge        RejectReason = "file_too_large"
	TooFewFiles         RejectReason = "too_few_files"
	TooManyFiles        RejectReason = "too_many_files"
	MissingOption       RejectReason = "missing_option"
	InvalidOption       RejectReason = "invalid_option"
)

// ValidationError is a client-fixable admission failure. It is raised before
// any holding-area write and maps to HTTP 400.
type ValidationError struct {
	Reason  RejectReason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Reject builds a ValidationError with a formatted message.
func Reject(reason RejectReason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrAllFilesFailed is returned by a per-file operation when no input
	// survived processing.
	ErrAllFilesFailed = errors.New("all files failed to process")

	// ErrSessionExpired is returned when a download arrives after the
	// session's expiry, whether or not the sweeper has reclaimed it.
	ErrSessionExpired = errors.New("session expired")

	// ErrArtifactNotFound covers unknown sessions, unknown artifacts and
	// artifacts already reclaimed from disk.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrTransformTimeout marks an external invocation that exceeded its
	// deadline, as opposed to exiting with a failure code.
	ErrTransformTimeout = errors.New("transform timed out")
)
