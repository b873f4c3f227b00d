package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func serve(t *testing.T, hf http.HandlerFunc) (int, Response, http.Header) {
	t.Helper()
	rec := httptest.NewRecorder()
	hf.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp, rec.Header()
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler()
	h.Register("postgres", func(context.Context) error { return errors.New("down") })

	code, resp, header := serve(t, h.LivenessHandler())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "no-store", header.Get("Cache-Control"))
	assert.Equal(t, StatusUp, resp.Status)
	assert.Empty(t, resp.Checks, "liveness does not run dependency checks")
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		checkers map[string]Checker
		wantCode int
		want     map[string]Status
	}{
		{
			name:     "no dependencies",
			wantCode: http.StatusOK,
			want:     map[string]Status{},
		},
		{
			name:     "all up",
			checkers: map[string]Checker{"postgres": up, "redis": up},
			wantCode: http.StatusOK,
			want:     map[string]Status{"postgres": StatusUp, "redis": StatusUp},
		},
		{
			name: "kafka down",
			checkers: map[string]Checker{
				"postgres": up,
				"kafka":    func(context.Context) error { return errors.New("no brokers reachable") },
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]Status{"postgres": StatusUp, "kafka": StatusDown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for name, c := range tt.checkers {
				h.Register(name, c)
			}

			code, resp, _ := serve(t, h.ReadinessHandler())

			assert.Equal(t, tt.wantCode, code)
			require.Len(t, resp.Checks, len(tt.want))
			for name, status := range tt.want {
				assert.Equal(t, status, resp.Checks[name].Status, name)
			}
			if code == http.StatusServiceUnavailable {
				assert.Equal(t, StatusDown, resp.Status)
				assert.Equal(t, "no brokers reachable", resp.Checks["kafka"].Error)
			}
		})
	}
}

func TestReadinessHandler_Timeout(t *testing.T) {
	h := NewHandler(WithTimeout(20 * time.Millisecond))
	h.Register("smtp", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	code, resp, _ := serve(t, h.ReadinessHandler())

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["smtp"].Error)
	assert.GreaterOrEqual(t, resp.Checks["smtp"].DurationMS, 15.0)
}

func TestRegister_Replaces(t *testing.T) {
	h := NewHandler()
	h.Register("postgres", func(context.Context) error { return errors.New("fail") })
	h.Register("postgres", up)

	status, checks := h.Check(context.Background())
	assert.Equal(t, StatusUp, status)
	assert.Len(t, checks, 1)
}

func TestCheck_SlowCheckerDoesNotBlockOthers(t *testing.T) {
	h := NewHandler()
	release := make(chan struct{})
	defer close(release)
	h.Register("kafka", func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	h.Register("redis", up)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	status, checks := h.Check(ctx)

	assert.Equal(t, StatusDown, status)
	assert.Equal(t, StatusUp, checks["redis"].Status)
	assert.Equal(t, StatusDown, checks["kafka"].Status)
}

func TestCheck_PanicIsReportedDown(t *testing.T) {
	h := NewHandler()
	h.Register("postgres", func(context.Context) error { panic("boom") })
	h.Register("redis", up)

	status, checks := h.Check(context.Background())

	assert.Equal(t, StatusDown, status)
	assert.Contains(t, checks["postgres"].Error, "boom")
	assert.Equal(t, StatusUp, checks["redis"].Status)
}
