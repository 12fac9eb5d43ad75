package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies inference failures for retry decisions and telemetry.
type ErrorType string

const (
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeEndpoint   ErrorType = "endpoint"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeBadRequest ErrorType = "bad_request"
	ErrorTypeModel      ErrorType = "model"
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Error represents a structured inference error with classification.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
	Model      string    // Model name if known
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured inference error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ClassifyError categorizes an error and returns a structured Error.
// Timeouts, rate limits, and server-side failures are retryable; auth and
// malformed-request failures are not.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	// Check if already an *Error
	var infErr *Error
	if errors.As(err, &infErr) {
		return infErr
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	// Extract HTTP status code from error string
	statusCode := 0
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	withStatus := func(e *Error) *Error {
		e.StatusCode = statusCode
		return e
	}

	// Timeouts and cancelled deadlines (retryable)
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded") {
		return withStatus(NewError(ErrorTypeTimeout, "request timeout", true, err))
	}

	// Authentication errors (not retryable)
	if statusCode == 401 || statusCode == 403 ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") {
		return withStatus(NewError(ErrorTypeAuth, "authentication failed", false, err))
	}

	// Model not found (not retryable without config change)
	if strings.Contains(lower, "model") && (strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")) {
		return withStatus(NewError(ErrorTypeModel, "model not found", false, err))
	}

	// Malformed request (not retryable)
	if statusCode == 400 ||
		strings.Contains(lower, "invalid request") ||
		strings.Contains(lower, "bad request") {
		return withStatus(NewError(ErrorTypeBadRequest, "malformed request", false, err))
	}

	// Rate limiting (retryable after backoff)
	if statusCode == 429 ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "overloaded") {
		return withStatus(NewError(ErrorTypeRateLimit, "rate limited", true, err))
	}

	// Connection failures (retryable - the local server may be restarting)
	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") {
		return withStatus(NewError(ErrorTypeEndpoint, "connection failed", true, err))
	}

	// GPU errors from local inference servers (transient, retryable)
	if strings.Contains(lower, "cuda error") || strings.Contains(lower, "gpu error") ||
		strings.Contains(lower, "out of memory") {
		return withStatus(NewError(ErrorTypeServer, "GPU error", true, err))
	}

	// 5xx server errors (retryable)
	if statusCode >= 500 {
		return withStatus(NewError(ErrorTypeServer, "server error", true, err))
	}

	return withStatus(NewError(ErrorTypeUnknown, "inference error", false, err))
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var infErr *Error
	if errors.As(err, &infErr) {
		return infErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var infErr *Error
	if errors.As(err, &infErr) {
		return infErr.Type
	}
	return ErrorTypeUnknown
}
