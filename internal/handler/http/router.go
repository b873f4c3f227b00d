package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/notifier/internal/service"
	"github.com/utafrali/notifier/pkg/health"
	"github.com/utafrali/notifier/pkg/middleware"
)

// RouterConfig holds the HTTP surface settings that come from configuration.
type RouterConfig struct {
	CORS              middleware.CORSConfig
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all notifier routes registered. The
// inbox route is only mounted when inbox is non-nil.
func NewRouter(
	dispatcher Dispatcher,
	notificationService *service.NotificationService,
	preferenceService *service.PreferenceService,
	inbox InboxReader,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing("notifier"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("notifier"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	notificationHandler := NewNotificationHandler(dispatcher, notificationService, logger)
	preferenceHandler := NewPreferenceHandler(preferenceService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", notificationHandler.Dispatch)
			r.Post("/queue", notificationHandler.Queue)
			r.Post("/flush", notificationHandler.Flush)
			r.Post("/retry", notificationHandler.Retry)
			r.Get("/stats", notificationHandler.Stats)
			r.Get("/user/{userId}", notificationHandler.ListNotificationsByUser)
			r.Get("/{id}", notificationHandler.GetNotification)
		})

		r.Get("/channels/health", notificationHandler.ChannelHealth)

		r.Route("/preferences/{userId}", func(r chi.Router) {
			r.Get("/", preferenceHandler.List)
			r.Put("/channels", preferenceHandler.SetChannels)
			r.Put("/quiet-hours", preferenceHandler.SetQuietHours)
			r.Put("/enabled", preferenceHandler.SetEnabled)
			r.Get("/{type}", preferenceHandler.Get)
			r.Put("/{type}", preferenceHandler.Update)
		})

		if inbox != nil {
			r.Get("/inbox/{userId}", NewInboxHandler(inbox, logger).List)
		}
	})

	return r
}
