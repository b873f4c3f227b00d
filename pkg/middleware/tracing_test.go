package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func tracedRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Tracing("notifier"))
	r.Get("/api/v1/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "id") {
		case "missing":
			w.WriteHeader(http.StatusNotFound)
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"id":"n-1"}`))
		}
	})
	return r
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]any {
	out := map[string]any{}
	for _, a := range s.Attributes() {
		out[string(a.Key)] = a.Value.AsInterface()
	}
	return out
}

func TestTracing_Spans(t *testing.T) {
	tests := []struct {
		id         string
		wantStatus int64
		wantCode   codes.Code
	}{
		{"n-1", 200, codes.Unset},
		{"missing", 404, codes.Unset},
		{"broken", 500, codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			exporter := setupTestTracer(t)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/"+tt.id, nil)
			tracedRouter().ServeHTTP(httptest.NewRecorder(), req)

			spans := exporter.GetSpans().Snapshots()
			require.Len(t, spans, 1)
			span := spans[0]

			assert.Equal(t, "GET /api/v1/notifications/{id}", span.Name())
			assert.Equal(t, tt.wantCode, span.Status().Code)

			attrs := spanAttrs(span)
			assert.Equal(t, tt.wantStatus, attrs["http.response.status_code"])
			assert.Equal(t, "/api/v1/notifications/{id}", attrs["http.route"])
			assert.Equal(t, "GET", attrs["http.request.method"])
			assert.Equal(t, "http", attrs["url.scheme"])
		})
	}
}

func TestTracing_ContinuesCallerTrace(t *testing.T) {
	exporter := setupTestTracer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/n-1", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	tracedRouter().ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent.SpanID().String())
	assert.Contains(t, rec.Header().Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Equal(t, "https", spanAttrs(spans.Snapshots()[0])["url.scheme"])
}

func TestTracing_UnroutedKeepsPath(t *testing.T) {
	exporter := setupTestTracer(t)

	h := Tracing("notifier")(http.NotFoundHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/nowhere", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /nowhere", spans[0].Name)
}
