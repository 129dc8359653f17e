// Package errors provides unified error handling for Flux.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Validation errors (1xxx)
	ErrCodeValidation ErrorCode = "VAL_1001"

	// Size errors (2xxx)
	ErrCodePayloadTooLarge ErrorCode = "SIZE_2001"

	// Auth errors (3xxx)
	ErrCodeUnauthorized ErrorCode = "AUTH_3001"
	ErrCodeForbidden    ErrorCode = "AUTH_3002"

	// Rate limit errors (4xxx)
	ErrCodeRateLimited ErrorCode = "RATE_4001"

	// Namespace errors (5xxx)
	ErrCodeNamespaceNotFound ErrorCode = "NS_5001"
	ErrCodeDuplicateName     ErrorCode = "NS_5002"
	ErrCodeInvalidName       ErrorCode = "NS_5003"
	ErrCodeStoreFailed       ErrorCode = "NS_5004"

	// Entity errors (6xxx)
	ErrCodeEntityNotFound ErrorCode = "ENT_6001"

	// Log / snapshot errors (7xxx)
	ErrCodeLogAppendError     ErrorCode = "LOG_7001"
	ErrCodeCorruptSnapshot    ErrorCode = "SNAP_7002"
	ErrCodeSnapshotWriteError ErrorCode = "SNAP_7003"

	// Internal errors (9xxx)
	ErrCodeInternal ErrorCode = "SVC_9001"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation is raised by the event model when an envelope fails
// validate_and_prepare.
func Validation(reason string) *ServiceError {
	return New(ErrCodeValidation, reason, http.StatusBadRequest)
}

// PayloadTooLarge is raised by body-size enforcement, before decoding.
func PayloadTooLarge(limit int64) *ServiceError {
	return New(ErrCodePayloadTooLarge, "request body exceeds configured size limit", http.StatusRequestEntityTooLarge).
		WithDetails("limit_bytes", limit)
}

// Unauthorized is raised when a bearer token is missing, malformed, or unknown.
func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// Forbidden is raised when a token authenticates a different namespace than
// the one targeted by the write.
func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// RateLimited is raised by the rate limiter; callers should set Retry-After.
func RateLimited(namespace string) *ServiceError {
	return New(ErrCodeRateLimited, "rate limit exceeded for namespace", http.StatusTooManyRequests).
		WithDetails("namespace", namespace)
}

// NamespaceNotFound is raised when a named namespace does not exist.
func NamespaceNotFound(name string) *ServiceError {
	return New(ErrCodeNamespaceNotFound, "namespace not found", http.StatusNotFound).
		WithDetails("name", name)
}

// DuplicateName is raised on registering an already-used namespace name.
func DuplicateName(name string) *ServiceError {
	return New(ErrCodeDuplicateName, "namespace name already registered", http.StatusConflict).
		WithDetails("name", name)
}

// InvalidName is raised when a namespace name fails its regex.
func InvalidName(name string) *ServiceError {
	return New(ErrCodeInvalidName, "namespace name is invalid", http.StatusBadRequest).
		WithDetails("name", name)
}

// StoreFailed is raised when the namespace store rejects a write.
func StoreFailed(err error) *ServiceError {
	return Wrap(ErrCodeStoreFailed, "namespace store operation failed", http.StatusInternalServerError, err)
}

// EntityNotFound is raised when a queried entity id has no live entity.
func EntityNotFound(id string) *ServiceError {
	return New(ErrCodeEntityNotFound, "entity not found", http.StatusNotFound).
		WithDetails("id", id)
}

// LogAppendError is raised when the durable log rejects or fails an append.
func LogAppendError(err error) *ServiceError {
	return Wrap(ErrCodeLogAppendError, "failed to append event to log", http.StatusInternalServerError, err)
}

// CorruptSnapshot is raised by the codec when a snapshot fails to decode.
func CorruptSnapshot(path string, err error) *ServiceError {
	return Wrap(ErrCodeCorruptSnapshot, "snapshot file is corrupt", http.StatusInternalServerError, err).
		WithDetails("path", path)
}

// SnapshotWriteError is raised when the snapshot manager fails to persist.
func SnapshotWriteError(path string, err error) *ServiceError {
	return Wrap(ErrCodeSnapshotWriteError, "failed to write snapshot", http.StatusInternalServerError, err).
		WithDetails("path", path)
}

// Internal wraps an unexpected error.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
