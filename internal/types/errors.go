package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these constants instead of
// hardcoded strings so HTTP mapping and alerting stay consistent.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidType  ErrorCode = "validation_invalid_job_type"
	ErrCodeValidationInvalidValue ErrorCode = "validation_invalid_value"
	ErrCodeValidationBatchSize    ErrorCode = "validation_batch_size_exceeded"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_api_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_api_key_invalid"

	// Not Found (404)
	ErrCodeNotFoundJob      ErrorCode = "not_found_job"
	ErrCodeNotFoundUser     ErrorCode = "not_found_user"
	ErrCodeNotFoundContract ErrorCode = "not_found_contract"

	// Conflict (409)
	// ErrCodeConflictClaimLost signals an optimistic-concurrency update that
	// found the job in a different state than expected: another dispatcher or
	// an admin action got there first. Callers treat it as a no-op.
	ErrCodeConflictClaimLost ErrorCode = "conflict_claim_lost"
	ErrCodeConflictDuplicate ErrorCode = "conflict_duplicate_job"
	ErrCodeConflictTerminal  ErrorCode = "conflict_job_terminal"

	// Send outcomes (per-job, never surfaced as HTTP errors by the tick loop)
	ErrCodeSendTransient       ErrorCode = "send_transient_failure"
	ErrCodeSendTargetNotFound  ErrorCode = "send_target_not_found"
	ErrCodeSendUnsupportedType ErrorCode = "send_unsupported_type"
	ErrCodeSendRenderFailed    ErrorCode = "send_render_failed"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamProvider   ErrorCode = "upstream_provider_unavailable"
	ErrCodeUpstreamRateLimit  ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "send_"):
		// Send outcomes are per-job results; if one escapes to the API layer
		// it is a bad gateway, not a client error.
		return http.StatusBadGateway
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All domain and handler
// errors are expressed as AppError to enable consistent formatting, HTTP
// status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
