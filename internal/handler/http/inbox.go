package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/notifier/internal/transport"
	"github.com/utafrali/notifier/pkg/httputil"
	"github.com/utafrali/notifier/pkg/pagination"
)

// InboxReader reads a user's in-app inbox.
type InboxReader interface {
	List(ctx context.Context, userID string, offset, limit int) ([]transport.InboxEntry, int, error)
}

// InboxHandler serves the in-app inbox.
type InboxHandler struct {
	inbox  InboxReader
	logger *slog.Logger
}

// NewInboxHandler creates a new inbox HTTP handler.
func NewInboxHandler(inbox InboxReader, logger *slog.Logger) *InboxHandler {
	return &InboxHandler{
		inbox:  inbox,
		logger: logger,
	}
}

// List handles GET /api/v1/inbox/{userId}
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	params, err := pagination.Parse(r)
	if err != nil {
		httputil.WriteInvalidParameter(w, err.Error())
		return
	}

	entries, total, err := h.inbox.List(r.Context(), userID.String(), params.Offset, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(entries, total, params))
}
