package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/notifier/pkg/logger"
)

// RequestLogger stores a logger carrying the request's correlation ID, user
// and trace in the context, for logger.FromContext. Mount it after
// RequestLogging and Tracing so those values are already set.
//
// The user comes from the context when present, else from X-User-ID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if logger.UserIDFromContext(ctx) == "" {
				if id := r.Header.Get("X-User-ID"); id != "" {
					ctx = logger.WithUserID(ctx, id)
				}
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
