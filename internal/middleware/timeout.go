package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"geobatch-backend/pkg/api"
)

// Timeout wraps requests with a deadline read per-request from the provided
// function, so hot-reloaded configuration applies without a restart. All
// writes go through a guarded writer: the handler goroutine and the deadline
// branch never touch the underlying ResponseWriter concurrently, and once
// the 408 is sent, late handler writes fail with http.ErrHandlerTimeout.
func Timeout(limit func() time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit())
			defer cancel()

			tw := &timeoutWriter{dst: w, hdr: make(http.Header)}
			r = r.WithContext(ctx)
			done := make(chan struct{})

			go func() {
				defer func() {
					if err := recover(); err != nil {
						logger.Error("panic in timed handler",
							zap.String("request_id", GetRequestIDFromRequest(r)),
							zap.Any("panic", err),
						)
					}
					close(done)
				}()
				next.ServeHTTP(tw, r)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				logger.Warn("request deadline exceeded",
					zap.String("request_id", GetRequestIDFromRequest(r)),
					zap.String("path", r.URL.Path),
				)
				tw.timeout()
			}
		})
	}
}

// timeoutWriter serializes access to the underlying ResponseWriter. Header
// mutations land in a private map, copied out on the first write, so the
// deadline branch never reads a map the handler is still writing.
type timeoutWriter struct {
	dst http.ResponseWriter
	hdr http.Header

	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.hdr }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.writeHeaderLocked(http.StatusOK)
	return tw.dst.Write(b)
}

func (tw *timeoutWriter) Flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || !tw.wroteHeader {
		return
	}
	if f, ok := tw.dst.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.wroteHeader || tw.timedOut {
		return
	}
	dst := tw.dst.Header()
	for k, v := range tw.hdr {
		dst[k] = v
	}
	tw.dst.WriteHeader(code)
	tw.wroteHeader = true
}

// timeout sends the 408 if nothing has been written yet and cuts the
// handler off from the underlying writer.
func (tw *timeoutWriter) timeout() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.wroteHeader {
		api.Error(tw.dst, http.StatusRequestTimeout, "PIPELINE_CANCELLED", "Request timeout")
	}
	tw.timedOut = true
}
