// Package errors defines the service error type shared by handlers and middleware.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "BAD_REQUEST"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeUnavailable       ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimited       ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError carries an HTTP status and a user-facing message along with
// the underlying cause.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("id", id)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// InvalidTransition reports a screen change the flow does not allow.
func InvalidTransition(from, to string, err error) *ServiceError {
	return newError(CodeInvalidTransition, http.StatusConflict, "screen transition not allowed", err).
		WithDetails("from", from).
		WithDetails("to", to)
}

func Unavailable(message string, err error) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus maps any error to a response status.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
