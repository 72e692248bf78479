package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeThrottled         ErrorCode = "THROTTLED"
	ErrCodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnavailable       ErrorCode = "UNAVAILABLE"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeCollaborator      ErrorCode = "COLLABORATOR_FAILED"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// NewThrottledError reports a denied cooldown or lock acquisition. Remaining
// tells the user when a retry can succeed.
func NewThrottledError(remaining time.Duration) *AppError {
	return NewAppError(ErrCodeThrottled, fmt.Sprintf("try again in %s", remaining.Round(time.Second)), http.StatusTooManyRequests).
		WithContext("remaining", remaining)
}

// NewResourceBusyError reports a denied lock acquisition. Unlike a cooldown
// denial there is no known wait time, so the message carries no countdown.
func NewResourceBusyError(resource string) *AppError {
	return NewAppError(ErrCodeThrottled, fmt.Sprintf("%s is busy, try again shortly", resource), http.StatusTooManyRequests)
}

func NewPermissionDeniedError(message string) *AppError {
	return NewAppError(ErrCodePermissionDenied, message, http.StatusForbidden)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeUnavailable, message, http.StatusConflict)
}

func NewInsufficientFundsError(balance, cost int) *AppError {
	return NewAppError(ErrCodeInsufficientFunds, "insufficient balance", http.StatusPaymentRequired).
		WithContext("balance", balance).
		WithContext("cost", cost)
}

func NewCollaboratorError(err error, collaborator string) *AppError {
	return WrapError(err, ErrCodeCollaborator, fmt.Sprintf("%s call failed", collaborator), http.StatusBadGateway)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// Remaining extracts the remaining cooldown from a throttled error, if any.
func Remaining(err error) time.Duration {
	appErr := GetAppError(err)
	if appErr == nil {
		return 0
	}
	if d, ok := appErr.Context["remaining"].(time.Duration); ok {
		return d
	}
	return 0
}
