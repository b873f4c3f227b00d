// Package errors defines the notifier's application errors and their HTTP
// mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with errors.Is. Every AppError wraps one of them, except
// Internal, which wraps its cause.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueFull         = errors.New("queue is full")
	ErrTooManyRequests   = errors.New("too many requests")
	ErrServiceUnavail    = errors.New("service unavailable")
)

type kind struct {
	code   string
	status int
}

var kinds = map[error]kind{
	ErrNotFound:          {"NOT_FOUND", http.StatusNotFound},
	ErrAlreadyExists:     {"ALREADY_EXISTS", http.StatusConflict},
	ErrInvalidInput:      {"INVALID_INPUT", http.StatusBadRequest},
	ErrConflict:          {"CONFLICT", http.StatusConflict},
	ErrInvalidTransition: {"INVALID_TRANSITION", http.StatusConflict},
	ErrQueueFull:         {"QUEUE_FULL", http.StatusTooManyRequests},
	ErrTooManyRequests:   {"TOO_MANY_REQUESTS", http.StatusTooManyRequests},
	ErrServiceUnavail:    {"SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
}

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func newError(sentinel error, format string, args ...any) *AppError {
	k := kinds[sentinel]
	return &AppError{Code: k.code, Message: fmt.Sprintf(format, args...), Status: k.status, Err: sentinel}
}

// NotFound reports a missing resource by id.
func NotFound(resource, id string) *AppError {
	return newError(ErrNotFound, "%s with id %s not found", resource, id)
}

// AlreadyExists reports a uniqueness violation on field.
func AlreadyExists(resource, field, value string) *AppError {
	return newError(ErrAlreadyExists, "%s with %s %q already exists", resource, field, value)
}

// InvalidInput reports a request the caller must fix.
func InvalidInput(message string) *AppError {
	return newError(ErrInvalidInput, "%s", message)
}

// Conflict reports a request that clashes with current state.
func Conflict(message string) *AppError {
	return newError(ErrConflict, "%s", message)
}

// InvalidTransition reports a status change the lifecycle does not allow.
func InvalidTransition(from, to string) *AppError {
	return newError(ErrInvalidTransition, "cannot transition from %s to %s", from, to)
}

// QueueFull tells the caller to back off until the queue drains.
func QueueFull(capacity int) *AppError {
	return newError(ErrQueueFull, "notification queue is full (capacity %d)", capacity)
}

// TooManyRequests reports a rate limit hit.
func TooManyRequests(message string) *AppError {
	return newError(ErrTooManyRequests, "%s", message)
}

// ServiceUnavailable reports a dependency that cannot serve right now.
func ServiceUnavailable(message string) *AppError {
	return newError(ErrServiceUnavail, "%s", message)
}

// Internal hides err behind a generic message.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// From converts err into an AppError. AppErrors are returned as is. A wrapped
// sentinel takes its kind, with err's text as the message for 4xx kinds.
// Anything else becomes Internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			msg := err.Error()
			if k.status >= http.StatusInternalServerError {
				msg = sentinel.Error()
			}
			return &AppError{Code: k.code, Message: msg, Status: k.status, Err: err}
		}
	}
	return Internal(err)
}

// HTTPStatus is the response status for err.
func HTTPStatus(err error) int {
	return From(err).Status
}
