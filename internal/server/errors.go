package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/sqlbeats/beatscore/internal/errors"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError reports an invalid request.
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:    "BAD_REQUEST",
		Message: message,
	}
}

// NewConflictError reports a request that clashes with current state.
func NewConflictError(message string) *APIError {
	return &APIError{
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError hides err behind a generic message.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
		Details: err.Error(),
	}
}

var codes = map[apperrors.ErrorType]string{
	apperrors.ErrTypeValidation: "BAD_REQUEST",
	apperrors.ErrTypeNotFound:   "NOT_FOUND",
	apperrors.ErrTypeDuplicate:  "CONFLICT",
	apperrors.ErrTypeAuth:       "UNAUTHORIZED",
	apperrors.ErrTypeRateLimit:  "RATE_LIMITED",
	apperrors.ErrTypeCancelled:  "CANCELLED",
}

// fromError maps an application error onto a status code and APIError.
func fromError(err error) (int, *APIError) {
	status := apperrors.StatusCode(err)
	code, ok := codes[apperrors.GetErrorType(err)]
	if !ok || status >= http.StatusInternalServerError {
		return status, NewInternalError(err)
	}
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	return status, &APIError{Code: code, Message: message}
}

func abort(c *gin.Context, status int, apiErr *APIError) {
	apiErr.RequestID = GetRequestID(c)
	c.AbortWithStatusJSON(status, apiErr)
}

func abortWithError(c *gin.Context, err error) {
	status, apiErr := fromError(err)
	abort(c, status, apiErr)
}
