package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Record validation errors
	ErrValidation      = errors.New("record validation failed")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidDataType = errors.New("invalid data type")
	ErrFileNotFound    = errors.New("attached file not found")

	// Transport errors
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrNoResponse         = errors.New("no response received")
	ErrRequestFailed      = errors.New("request failed")

	// Metric errors
	ErrMetricNotFound   = errors.New("metric not found")
	ErrMetricRegistered = errors.New("metric already registered")
	ErrLabelMismatch    = errors.New("label set does not match metric definition")
	ErrAlreadySampling  = errors.New("periodic sampling already running")

	// Health errors
	ErrAggregationFailed = errors.New("health aggregation failed")
)

// ErrorKind classifies an error so callers can distinguish a rejected
// payload from transient network failure without string matching.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindHTTPStatus  ErrorKind = "http_status"
	KindNoResponse  ErrorKind = "no_response"
	KindLocal       ErrorKind = "local"
	KindMetric      ErrorKind = "metric"
	KindConfig      ErrorKind = "config"
	KindAggregation ErrorKind = "aggregation"
)

// Error provides structured error information with context.
// It implements the error interface and supports error wrapping.
type Error struct {
	Op         string    // Operation that failed (e.g., "transport.Send")
	Kind       ErrorKind // Classification of the failure
	StatusCode int       // HTTP status for KindHTTPStatus errors, zero otherwise
	Message    string    // Human-readable message
	Err        error     // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.text())
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.text())
	default:
		return e.text()
	}
}

func (e *Error) text() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation and classification
func NewError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the classification of an error, or empty string if the
// error does not carry one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf extracts the remote HTTP status from an error, or zero if the
// error was not an HTTP status rejection.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsValidation checks if an error is a pre-flight validation failure.
// Validation failures are never retried.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidDataType) ||
		errors.Is(err, ErrFileNotFound)
}

// IsTransient checks if an error represents a connectivity or timeout
// failure where no response arrived. Transient errors are retryable.
func IsTransient(err error) bool {
	return KindOf(err) == KindNoResponse || errors.Is(err, ErrNoResponse)
}

// IsHTTPStatus checks if an error carries a non-success remote status
func IsHTTPStatus(err error) bool {
	return KindOf(err) == KindHTTPStatus
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsMetricError checks if an error came from the metrics registry
func IsMetricError(err error) bool {
	return errors.Is(err, ErrMetricNotFound) ||
		errors.Is(err, ErrMetricRegistered) ||
		errors.Is(err, ErrLabelMismatch)
}
