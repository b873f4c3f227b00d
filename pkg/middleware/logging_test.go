package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/utafrali/notifier/pkg/logger"
)

func newTestLogger(w *bytes.Buffer) *slog.Logger {
	return logger.NewWithWriter("notifier", "info", w)
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/v1/notifications", http.StatusCreated, slog.LevelInfo},
		{"/api/v1/notifications/queue", http.StatusTooManyRequests, slog.LevelWarn},
		{"/api/v1/notifications/retry", http.StatusInternalServerError, slog.LevelError},
		{"/health/ready", http.StatusOK, slog.LevelDebug},
		{"/health/ready", http.StatusServiceUnavailable, slog.LevelError},
		{"/metrics", http.StatusOK, slog.LevelDebug},
	}

	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLevel(%q, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestRequestLogging_ReusesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	var seen string

	handler := RequestLogging(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/queue", nil)
	req.Header.Set("X-Correlation-ID", "corr-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "corr-abc" {
		t.Errorf("context correlation_id = %q, want %q", seen, "corr-abc")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-abc" {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, "corr-abc")
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
	if entry["status"] != float64(http.StatusAccepted) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusAccepted)
	}
}

func TestRequestLogging_GeneratesCorrelationID(t *testing.T) {
	var buf bytes.Buffer

	handler := RequestLogging(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stats", nil))

	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected a generated X-Correlation-ID")
	}
}

func TestRequestLogging_ProbesBelowInfo(t *testing.T) {
	var buf bytes.Buffer

	handler := RequestLogging(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if strings.TrimSpace(buf.String()) != "" {
		t.Errorf("expected no log output for probe at info level, got %q", buf.String())
	}
}
