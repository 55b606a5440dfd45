package middleware

import (
	"net/http"

	"geobatch-backend/internal/telemetry"
)

// Telemetry opens a request-scoped event per request and propagates the
// correlation id through the request context, so row and job events started
// further down the pipeline correlate with it in every sink.
func Telemetry(fanout *telemetry.Fanout) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, event := fanout.StartEvent(r.Context(), telemetry.KindRequest, r.Method+" "+r.URL.Path, map[string]string{
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": GetRequestID(r.Context()),
			})

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			status := telemetry.StatusOK
			if rec.status >= http.StatusInternalServerError {
				status = telemetry.StatusError
			}
			fanout.FinishEvent(event, status, nil)
		})
	}
}
