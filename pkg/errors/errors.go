package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeCapabilityMissing ErrorCode = "CAPABILITY_MISSING"
	ErrCodeSendFailed        ErrorCode = "SEND_FAILED"
	ErrCodeNegotiation       ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeNotImplemented    ErrorCode = "NOT_IMPLEMENTED"
	ErrCodeRelayInternal     ErrorCode = "RELAY_INTERNAL"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Numeric codes reported to client applications through error events.
const (
	ClientCodeCapability = -1
	ClientCodeTransport  = -2
	ClientCodeGeneric    = -3
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

// ClientCode maps the error to the numeric code surfaced by the client facade.
func (e *AppError) ClientCode() int {
	switch e.Code {
	case ErrCodeCapabilityMissing:
		return ClientCodeCapability
	case ErrCodeSendFailed:
		return ClientCodeTransport
	}
	return ClientCodeGeneric
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

func NewCapabilityError(message string) *AppError {
	return NewAppError(ErrCodeCapabilityMissing, message, http.StatusNotImplemented)
}

func NewSendFailedError(err error, message string) *AppError {
	return WrapError(err, ErrCodeSendFailed, message, http.StatusBadGateway)
}

func NewNegotiationError(err error, message string) *AppError {
	return WrapError(err, ErrCodeNegotiation, message, http.StatusBadGateway)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewInvalidStateError(err error, message string) *AppError {
	return WrapError(err, ErrCodeInvalidState, message, http.StatusConflict)
}

func NewNotFoundError(err error, resource string) *AppError {
	return WrapError(err, ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewNotImplementedError(err error, operation string) *AppError {
	return WrapError(err, ErrCodeNotImplemented, fmt.Sprintf("%s is not implemented", operation), http.StatusNotImplemented)
}

func NewRelayInternalError(err error, msgType string) *AppError {
	return WrapError(err, ErrCodeRelayInternal, fmt.Sprintf("failed to handle %q message", msgType), http.StatusInternalServerError)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(err error, message string) *AppError {
	return WrapError(err, ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
