package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"geobatch-backend/pkg/api"
)

// Recovery handles panics and converts them to proper HTTP error responses.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.String("request_id", GetRequestIDFromRequest(r)),
						zap.String("path", r.URL.Path),
						zap.Any("panic", err),
						zap.ByteString("stack", debug.Stack()),
					)

					// If the response was already partially written
					// there is nothing left to do; the server will
					// close the connection.
					if w.Header().Get("Content-Type") == "" {
						api.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
