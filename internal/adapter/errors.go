package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorType categorizes backend failures for retry classification.
// Types determine whether a failed attempt is requeued or written out as a
// terminal failure.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates the backend rejected for rate (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeBackend indicates the backend service is unavailable (retryable).
	ErrorTypeBackend ErrorType = "backend_unavailable"

	// ErrorTypeValidation indicates the request was structurally rejected (non-retryable).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeAuth indicates authentication failed (non-retryable).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions (non-retryable).
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota indicates account quota exhausted (non-retryable).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common adapter errors.
var (
	// ErrUnknownBackend indicates a record named an api with no registered adapter.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrUnsupportedPromptShape indicates the backend cannot express the
	// record's prompt shape.
	ErrUnsupportedPromptShape = errors.New("unsupported prompt shape")

	// ErrInvalidResponse indicates the backend returned an undecodable body.
	ErrInvalidResponse = errors.New("invalid backend response")

	// ErrMissingEndpoint indicates a backend that requires an explicit
	// endpoint was configured without one.
	ErrMissingEndpoint = errors.New("endpoint not configured")
)

// BackendError captures a structured failure from a backend, with HTTP
// status, provider error code, and classified type. It is the uniform
// failure channel the dispatcher inspects.
type BackendError struct {
	Backend    string    `json:"backend"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
}

// Error returns the formatted backend error with status code context.
func (e *BackendError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Backend, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *BackendError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeBackend:
		return true
	default:
		return false
	}
}

// classifyErrorType determines ErrorType from HTTP status and provider error
// codes. Provider codes take precedence over status codes.
func classifyErrorType(statusCode int, errorCode string) ErrorType {
	lowerCode := strings.ToLower(errorCode)
	if strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit") {
		return ErrorTypeRateLimit
	}
	if strings.Contains(lowerCode, "timeout") {
		return ErrorTypeTimeout
	}
	if strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized") {
		return ErrorTypeAuth
	}
	if strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden") {
		return ErrorTypePermission
	}
	if strings.Contains(lowerCode, "quota") {
		return ErrorTypeQuota
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return ErrorTypeAuth
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusBadRequest:
		return ErrorTypeValidation
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return ErrorTypeBackend
	default:
		if statusCode >= 500 {
			return ErrorTypeBackend
		}
		return ErrorTypeUnknown
	}
}

// wrapTransportError converts an http.Client error into a BackendError so
// network-level failures flow through the same channel as API rejections.
func wrapTransportError(backend string, err error) *BackendError {
	errType := ErrorTypeNetwork
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		errType = ErrorTypeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		errType = ErrorTypeTimeout
	}
	return &BackendError{
		Backend: backend,
		Message: err.Error(),
		Type:    errType,
	}
}
