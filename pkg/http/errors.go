package http

import (
	"fmt"
	"net/http"
)

// Error codes shared by every endpoint. Validation failures use ERR_<TAG>,
// e.g. ERR_REQUIRED or ERR_DATETIME.
const (
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeRequired    = "ERR_REQUIRED"
	CodeNotFound    = "ERR_NOT_FOUND"
	CodeRateLimited = "ERR_RATE_LIMITED"
	CodeUnavailable = "ERR_UNAVAILABLE"
	CodeInternal    = "ERR_INTERNAL"
)

// AppError is an API error with its HTTP status. Only code, message, field
// and params are serialized.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError keeps err for logs and errors.Is without exposing it to clients.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// RequiredError reports a missing field.
func RequiredError(field string) *AppError {
	return NewAppError(CodeRequired, field, field+" is required", http.StatusBadRequest)
}

func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, "", message, http.StatusNotFound)
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NotFoundError(fmt.Sprintf(format, a...))
}

func BadRequestError(message string) *AppError {
	return NewAppError(CodeBadRequest, "", message, http.StatusBadRequest)
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

// RateLimitedError carries the suggested wait in params.retry_after_seconds.
func RateLimitedError(retryAfterSeconds int) *AppError {
	return NewAppError(CodeRateLimited, "", "rate limit exceeded", http.StatusTooManyRequests).
		WithParam("retry_after_seconds", retryAfterSeconds)
}

// UnavailableError reports a disabled feature or an upstream dependency that is down.
func UnavailableError(message string) *AppError {
	return NewAppError(CodeUnavailable, "", message, http.StatusServiceUnavailable)
}

func InternalError(message string) *AppError {
	return NewAppError(CodeInternal, "", message, http.StatusInternalServerError)
}
