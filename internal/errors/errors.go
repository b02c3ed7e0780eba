package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeNetwork represents network-related errors
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeAuth represents missing or rejected credentials
	ErrTypeAuth ErrorType = "auth"
	// ErrTypeRateLimit represents rate limiting errors
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeResolution represents a storage key that could not be turned into a URL
	ErrTypeResolution ErrorType = "resolution"
	// ErrTypeTransfer represents a failed file transfer
	ErrTypeTransfer ErrorType = "transfer"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeDuplicate represents a request for work that is already tracked
	ErrTypeDuplicate ErrorType = "duplicate"
	// ErrTypeCancelled represents work stopped by its owner
	ErrTypeCancelled ErrorType = "cancelled"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeNetwork,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewAuthError creates a new authentication error.
// Auth failures are not retried: the caller has to supply a new token.
func NewAuthError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeAuth,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(message string, retryAfter int) *AppError {
	return &AppError{
		Type:       ErrTypeRateLimit,
		Message:    fmt.Sprintf("%s (retry after %d seconds)", message, retryAfter),
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Retryable:  false,
	}
}

// NewResolutionError creates an error for an unresolvable storage key
func NewResolutionError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeResolution,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewTransferError creates a new transfer error
func NewTransferError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeTransfer,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeFileSystem,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewDuplicateError creates an error for work that is already tracked
func NewDuplicateError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeDuplicate,
		Message:    message,
		StatusCode: http.StatusConflict,
		Retryable:  false,
	}
}

// NewCancelledError creates an error for cancelled work
func NewCancelledError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeCancelled,
		Message:    message,
		StatusCode: 499,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// StatusCode returns the HTTP status that best describes err
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	return GetErrorType(err) == ErrTypeAuth
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrTypeRateLimit
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return GetErrorType(err) == ErrTypeNetwork
}

// IsDuplicate checks if an error reports already-tracked work
func IsDuplicate(err error) bool {
	return GetErrorType(err) == ErrTypeDuplicate
}

// IsCancelled checks if an error reports cancelled work
func IsCancelled(err error) bool {
	return GetErrorType(err) == ErrTypeCancelled
}
