package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/notifier/internal/breaker"
	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/service"
	"github.com/utafrali/notifier/pkg/httputil"
	"github.com/utafrali/notifier/pkg/pagination"
	"github.com/utafrali/notifier/pkg/validator"
)

// Dispatcher is the part of the dispatcher the HTTP API drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, in *domain.CreateNotificationInput) (*domain.DispatchResult, error)
	Queue(ctx context.Context, in *domain.CreateNotificationInput) (*domain.QueueResult, error)
	ProcessQueue(ctx context.Context) *domain.BatchDispatchResult
	RetryFailed(ctx context.Context) (*domain.BatchDispatchResult, error)
	ChannelHealth(ctx context.Context) []domain.ChannelHealth
	QueueStats() domain.QueueStats
	BreakerStats() map[domain.Channel]breaker.Stats
}

// NotificationHandler handles HTTP requests for notification endpoints.
type NotificationHandler struct {
	dispatcher Dispatcher
	service    *service.NotificationService
	logger     *slog.Logger
}

// NewNotificationHandler creates a new notification HTTP handler.
func NewNotificationHandler(d Dispatcher, svc *service.NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		dispatcher: d,
		service:    svc,
		logger:     logger,
	}
}

// StatsResponse is the body of GET /api/v1/notifications/stats.
type StatsResponse struct {
	Queue    domain.QueueStats                `json:"queue"`
	Breakers map[domain.Channel]breaker.Stats `json:"breakers"`
}

// decodeNotification reads and validates a notification request body. On
// failure the error response is already written and false is returned.
func decodeNotification(w http.ResponseWriter, r *http.Request) (*domain.CreateNotificationInput, bool) {
	var req domain.CreateNotificationInput
	if !httputil.DecodeJSON(w, r, &req) {
		return nil, false
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return nil, false
	}

	return &req, true
}

// Dispatch handles POST /api/v1/notifications
func (h *NotificationHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeNotification(w, r)
	if !ok {
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// Queue handles POST /api/v1/notifications/queue
func (h *NotificationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeNotification(w, r)
	if !ok {
		return
	}

	result, err := h.dispatcher.Queue(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: result})
}

// Flush handles POST /api/v1/notifications/flush
func (h *NotificationHandler) Flush(w http.ResponseWriter, r *http.Request) {
	result := h.dispatcher.ProcessQueue(r.Context())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Retry handles POST /api/v1/notifications/retry
func (h *NotificationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	result, err := h.dispatcher.RetryFailed(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Stats handles GET /api/v1/notifications/stats
func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: StatsResponse{
		Queue:    h.dispatcher.QueueStats(),
		Breakers: h.dispatcher.BreakerStats(),
	}})
}

// ChannelHealth handles GET /api/v1/channels/health
func (h *NotificationHandler) ChannelHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.dispatcher.ChannelHealth(r.Context())})
}

// GetNotification handles GET /api/v1/notifications/{id}
func (h *NotificationHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	notification, err := h.service.GetNotification(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: notification})
}

// ListNotificationsByUser handles GET /api/v1/notifications/user/{userId}
func (h *NotificationHandler) ListNotificationsByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	params, err := pagination.Parse(r)
	if err != nil {
		httputil.WriteInvalidParameter(w, err.Error())
		return
	}

	notifications, total, err := h.service.ListNotificationsByUser(r.Context(), userID.String(), params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(notifications, total, params))
}
