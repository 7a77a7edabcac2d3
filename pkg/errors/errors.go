package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrInvalidState   = errors.New("invalid state transition")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limited")
	// ErrTimeout is a transient infrastructure failure and therefore also
	// matches ErrServiceUnavail.
	ErrTimeout = fmt.Errorf("timeout: %w", ErrServiceUnavail)
)

// Machine-readable reasons shared across services.
const (
	ReasonInvalidInput       = "invalid_input"
	ReasonUnauthorized       = "unauthorized"
	ReasonForbidden          = "forbidden"
	ReasonInternal           = "internal_error"
	ReasonServiceTimeout     = "service_timeout"
	ReasonServiceUnavailable = "service_unavailable"
	ReasonInvalidTransition  = "invalid_state_transition"
	ReasonRateLimited        = "rate_limited"
)

// AppError represents a structured application error with HTTP status mapping.
// Reason is the stable business cause a caller can render without parsing
// Message.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithReason returns a copy of the error carrying the given reason.
func (e *AppError) WithReason(reason string) *AppError {
	cpy := *e
	cpy.Reason = reason
	return &cpy
}

// NotFound creates a not-found error for the given resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id '%s' not found", resource, id),
		Reason:  resource + "_not_found",
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a validation error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Reason:  ReasonInvalidInput,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates an error for a legitimate business outcome that prevents
// the operation, such as insufficient stock.
func Conflict(reason, message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Reason:  reason,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// InvalidTransition creates an error for a disallowed status change.
func InvalidTransition(resource, from, to string) *AppError {
	return &AppError{
		Code:    "INVALID_STATE",
		Message: fmt.Sprintf("cannot transition %s from '%s' to '%s'", resource, from, to),
		Reason:  ReasonInvalidTransition,
		Status:  http.StatusConflict,
		Err:     ErrInvalidState,
	}
}

// Timeout creates an error for a remote call that received no reply in time.
func Timeout(service string) *AppError {
	return &AppError{
		Code:    "SERVICE_TIMEOUT",
		Message: fmt.Sprintf("%s did not reply in time", service),
		Reason:  ReasonServiceTimeout,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrTimeout,
	}
}

// ServiceUnavailable creates an error for a dependency that cannot be reached.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Reason:  ReasonServiceUnavailable,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Reason:  ReasonUnauthorized,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Reason:  ReasonForbidden,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// RateLimited creates a too-many-requests error.
func RateLimited(message string) *AppError {
	return &AppError{
		Code:    "RATE_LIMITED",
		Message: message,
		Reason:  ReasonRateLimited,
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// Internal creates an internal server error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Reason:  ReasonInternal,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus extracts the HTTP status code from an error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ReasonOf extracts the machine reason from an error chain.
func ReasonOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Reason != "" {
		return appErr.Reason
	}
	return ReasonInternal
}

// IsTimeout reports whether err is a remote-call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
