package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
		message  string
	}{
		{"not found", NotFound("notification", "ntf-1"), "NOT_FOUND", 404, ErrNotFound, "notification with id ntf-1 not found"},
		{"already exists", AlreadyExists("preference", "user_id", "u-1"), "ALREADY_EXISTS", 409, ErrAlreadyExists, `preference with user_id "u-1" already exists`},
		{"invalid input", InvalidInput("channels must not be empty"), "INVALID_INPUT", 400, ErrInvalidInput, "channels must not be empty"},
		{"conflict", Conflict("notification already sent"), "CONFLICT", 409, ErrConflict, "notification already sent"},
		{"transition", InvalidTransition("sent", "pending"), "INVALID_TRANSITION", 409, ErrInvalidTransition, "cannot transition from sent to pending"},
		{"queue full", QueueFull(10000), "QUEUE_FULL", 429, ErrQueueFull, "notification queue is full (capacity 10000)"},
		{"rate limited", TooManyRequests("sms: rate limited"), "TOO_MANY_REQUESTS", 429, ErrTooManyRequests, "sms: rate limited"},
		{"unavailable", ServiceUnavailable("push gateway down"), "SERVICE_UNAVAILABLE", 503, ErrServiceUnavail, "push gateway down"},
		{"percent in message", InvalidInput("100% off"), "INVALID_INPUT", 400, ErrInvalidInput, "100% off"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.message, tt.err.Message)
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.status, HTTPStatus(fmt.Errorf("handler: %w", tt.err)))
		})
	}
}

func TestInternal(t *testing.T) {
	cause := errors.New("db connection lost")
	err := Internal(cause)

	assert.Equal(t, "INTERNAL_ERROR", err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.NotContains(t, err.Message, "db connection lost")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "INTERNAL_ERROR: an internal error occurred: db connection lost", err.Error())
}

func TestAppError_ErrorWithoutCause(t *testing.T) {
	err := &AppError{Code: "QUIET_HOURS", Message: "suppressed"}
	assert.Equal(t, "QUIET_HOURS: suppressed", err.Error())
	assert.NoError(t, err.Unwrap())
}

func TestAppError_As(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", QueueFull(5))

	var appErr *AppError
	require.ErrorAs(t, wrapped, &appErr)
	assert.Equal(t, "QUEUE_FULL", appErr.Code)
}

func TestFrom(t *testing.T) {
	queueFull := QueueFull(3)
	assert.Same(t, queueFull, From(fmt.Errorf("queue: %w", queueFull)))

	wrapped := From(fmt.Errorf("load preference u-1: %w", ErrNotFound))
	assert.Equal(t, "NOT_FOUND", wrapped.Code)
	assert.Equal(t, "load preference u-1: resource not found", wrapped.Message)
	assert.ErrorIs(t, wrapped, ErrNotFound)

	unavailable := From(fmt.Errorf("dial 10.0.0.7:25: %w", ErrServiceUnavail))
	assert.Equal(t, "service unavailable", unavailable.Message)

	internal := From(errors.New("pool closed"))
	assert.Equal(t, "INTERNAL_ERROR", internal.Code)
	assert.Equal(t, "an internal error occurred", internal.Message)
}

func TestHTTPStatus_Sentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyExists, http.StatusConflict},
		{ErrConflict, http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("enqueue: %w", ErrQueueFull), http.StatusTooManyRequests},
		{ErrTooManyRequests, http.StatusTooManyRequests},
		{ErrServiceUnavail, http.StatusServiceUnavailable},
		{errors.New("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), tt.err.Error())
	}
	assert.Len(t, kinds, 8, "every sentinel has a kind")
}
