package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"geobatch-backend/internal/telemetry"
)

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("Should generate request ID when not provided", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()

		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, GetRequestIDFromRequest(r))
			w.WriteHeader(http.StatusOK)
		}))

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Should use provided request ID", func(t *testing.T) {
		expectedID := "test-request-id"
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", expectedID)
		w := httptest.NewRecorder()

		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, expectedID, GetRequestIDFromRequest(r))
			w.WriteHeader(http.StatusOK)
		}))

		handler.ServeHTTP(w, req)

		assert.Equal(t, expectedID, w.Header().Get("X-Request-ID"))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Run("Should handle panic gracefully", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()

		handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "Internal server error")
	})

	t.Run("Should not interfere with normal requests", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()

		handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Run("Should let fast requests through", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()

		handler := Timeout(func() time.Duration { return time.Second }, zap.NewNop())(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Should return 408 when the deadline fires first", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/search/csv", nil)
		w := httptest.NewRecorder()

		blocked := make(chan struct{})
		handler := Timeout(func() time.Duration { return 10 * time.Millisecond }, zap.NewNop())(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
				close(blocked)
			}))

		handler.ServeHTTP(w, req)
		<-blocked

		assert.Equal(t, http.StatusRequestTimeout, w.Code)
	})

	t.Run("Should cut off handler writes after the 408 is sent", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/search/csv", nil)
		w := httptest.NewRecorder()

		writeErr := make(chan error, 1)
		handler := Timeout(func() time.Duration { return 10 * time.Millisecond }, zap.NewNop())(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
				// Lag behind the deadline branch so the 408 is already
				// out when this write lands.
				time.Sleep(20 * time.Millisecond)
				_, err := w.Write([]byte("late,row,data\n"))
				writeErr <- err
			}))

		handler.ServeHTTP(w, req)
		err := <-writeErr

		assert.ErrorIs(t, err, http.ErrHandlerTimeout)
		assert.Equal(t, http.StatusRequestTimeout, w.Code)
		assert.Contains(t, w.Body.String(), "PIPELINE_CANCELLED")
		assert.NotContains(t, w.Body.String(), "late,row,data")
	})

	t.Run("Should propagate the deadline through the request context", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()

		handler := Timeout(func() time.Duration { return time.Minute }, zap.NewNop())(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, ok := r.Context().Deadline()
				assert.True(t, ok)
			}))

		handler.ServeHTTP(w, req)
	})
}

func TestMetricsMiddleware(t *testing.T) {
	t.Run("Should count requests by method and status", func(t *testing.T) {
		collector := telemetry.NewCollector("geobatch_mw_test")

		handler := Metrics(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		families, err := collector.Registry().Gather()
		require.NoError(t, err)

		var found bool
		for _, fam := range families {
			if fam.GetName() == "geobatch_mw_test_http_requests_total" {
				found = true
				require.Len(t, fam.GetMetric(), 1)
				assert.Equal(t, float64(1), fam.GetMetric()[0].GetCounter().GetValue())
			}
		}
		assert.True(t, found)
	})
}

func TestTelemetryMiddleware(t *testing.T) {
	t.Run("Should emit one request event with the correlation id in context", func(t *testing.T) {
		sink := &captureSink{}
		fanout := telemetry.NewFanout([]telemetry.Sink{sink}, telemetry.Options{FlushInterval: 10 * time.Millisecond}, nil, zap.NewNop())

		var seen string
		handler := Telemetry(fanout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = telemetry.CorrelationID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("POST", "/search/csv", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.NoError(t, fanout.Shutdown(context.Background()))
		require.Len(t, sink.events, 1)
		assert.Equal(t, telemetry.KindRequest, sink.events[0].Kind)
		assert.Equal(t, seen, sink.events[0].CorrelationID)
		assert.NotEmpty(t, seen)
	})
}

type captureSink struct {
	events []*telemetry.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Export(_ context.Context, events []*telemetry.Event) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *captureSink) Shutdown(context.Context) error { return nil }
