// Package errors provides standardized error handling for the CivicLens core.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Classification pipeline errors.
	ErrCodeConfigurationMissing ErrorCode = "CONFIGURATION_MISSING"
	ErrCodeTransportFailure     ErrorCode = "TRANSPORT_FAILURE"
	ErrCodeMalformedResponse    ErrorCode = "MALFORMED_RESPONSE"
	ErrCodeContentFiltered      ErrorCode = "CONTENT_FILTERED"
	ErrCodeCatalogLookupFailed  ErrorCode = "CATALOG_LOOKUP_FAILED"

	// Notification pipeline errors.
	ErrCodeChannelDeliveryFailed   ErrorCode = "CHANNEL_DELIVERY_FAILED"
	ErrCodeNotificationWriteFailed ErrorCode = "NOTIFICATION_WRITE_FAILED"
	ErrCodePreferenceLoadFailed    ErrorCode = "PREFERENCE_LOAD_FAILED"

	// Storage errors.
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewConfigurationMissingError signals that no inference credential is
// configured; classification fails fast without a network call.
func NewConfigurationMissingError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigurationMissing,
		Message:   "AI classifier is not configured",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportFailureError wraps a network or HTTP error from the inference
// service. Retryable at the caller's discretion; the client itself never retries.
func NewTransportFailureError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportFailure,
		Message:   "Inference service call failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedResponseError signals that the inference response contained no
// parseable structured object.
func NewMalformedResponseError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedResponse,
		Message:   "Inference response could not be parsed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewContentFilteredError signals the inference service declined to answer
// for safety-policy reasons. Not retried automatically.
func NewContentFilteredError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeContentFiltered,
		Message:   "Content blocked by safety filters, please rephrase",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCatalogLookupFailedError wraps a model-catalog discovery failure. The
// resolver recovers with the last-known-good identifier, so this is recorded
// rather than propagated.
func NewCatalogLookupFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogLookupFailed,
		Message:   "Model catalog lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewChannelDeliveryFailedError wraps a push or email delivery failure.
// Always caught at the adapter boundary and logged, never propagated.
func NewChannelDeliveryFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeChannelDeliveryFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationWriteFailedError wraps a failed durable notification insert.
func NewNotificationWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationWriteFailed,
		Message:   "Notification record write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPreferenceLoadFailedError wraps a preference read failure. The
// dispatcher degrades to the all-enabled default instead of failing.
func NewPreferenceLoadFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePreferenceLoadFailed,
		Message:   "Notification preference load failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TRANSPORT") || strings.Contains(codeStr, "MALFORMED") ||
		strings.Contains(codeStr, "CONTENT") || strings.Contains(codeStr, "CATALOG") ||
		strings.Contains(codeStr, "CONFIGURATION"):
		return "CLASSIFICATION"
	case strings.Contains(codeStr, "CHANNEL") || strings.Contains(codeStr, "NOTIFICATION") ||
		strings.Contains(codeStr, "PREFERENCE"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	default:
		return "OTHER"
	}
}
