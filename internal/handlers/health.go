package handlers

import (
	"net/http"
	"runtime"
	"time"

	"geobatch-backend/internal/telemetry"
	"geobatch-backend/pkg/api"
)

// HealthHandler serves liveness and lightweight runtime stats.
type HealthHandler struct {
	fanout    *telemetry.Fanout
	sinkNames []string
	started   time.Time
	version   string
}

// NewHealthHandler creates a health handler. sinkNames are the telemetry
// sinks whose drop counters are reported.
func NewHealthHandler(fanout *telemetry.Fanout, sinkNames []string, version string) *HealthHandler {
	return &HealthHandler{
		fanout:    fanout,
		sinkNames: sinkNames,
		started:   time.Now(),
		version:   version,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// RuntimeStats handles GET /health/metrics with a JSON snapshot for quick
// inspection; the Prometheus endpoint remains the machine-readable surface.
func (h *HealthHandler) RuntimeStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	dropped := make(map[string]uint64, len(h.sinkNames))
	for _, name := range h.sinkNames {
		dropped[name] = h.fanout.DroppedEvents(name)
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":   int64(time.Since(h.started).Seconds()),
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": mem.HeapAlloc,
		"sink_dropped":     dropped,
	})
}
