package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. Each instance
// owns its registry, so tests can construct collectors freely without
// duplicate-registration panics.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	ActiveRequests prometheus.Gauge

	// Batch geocoding metrics
	CSVUploads *prometheus.CounterVec
	CSVRows    *prometheus.CounterVec

	// Geocoder backend metrics
	GeocodeOps      *prometheus.CounterVec
	GeocodeDuration *prometheus.HistogramVec

	// Error metrics
	Errors *prometheus.CounterVec

	// Telemetry sink metrics
	SinkExported *prometheus.CounterVec
	SinkDropped  *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with the given namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of HTTP requests currently in flight",
		},
	)

	csvUploads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csv_uploads_total",
			Help:      "Total number of batch CSV uploads",
		},
		[]string{"mode", "status"},
	)

	csvRows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csv_rows_total",
			Help:      "Total number of CSV rows processed",
		},
		[]string{"mode", "result"},
	)

	geocodeOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_operations_total",
			Help:      "Total number of upstream geocoder calls",
		},
		[]string{"mode", "status"},
	)

	geocodeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_operation_duration_seconds",
			Help:      "Upstream geocoder call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	errors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		},
		[]string{"type"},
	)

	sinkExported := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_sink_exported_total",
			Help:      "Total number of telemetry events exported per sink",
		},
		[]string{"sink"},
	)

	sinkDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_sink_dropped_total",
			Help:      "Total number of telemetry events dropped per sink",
		},
		[]string{"sink"},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		activeRequests,
		csvUploads,
		csvRows,
		geocodeOps,
		geocodeDuration,
		errors,
		sinkExported,
		sinkDropped,
	)

	return &Collector{
		registry:        registry,
		HTTPRequests:    httpRequests,
		HTTPDuration:    httpDuration,
		ActiveRequests:  activeRequests,
		CSVUploads:      csvUploads,
		CSVRows:         csvRows,
		GeocodeOps:      geocodeOps,
		GeocodeDuration: geocodeDuration,
		Errors:          errors,
		SinkExported:    sinkExported,
		SinkDropped:     sinkDropped,
	}
}

// Handler returns an HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying gatherer for tests.
func (c *Collector) Registry() prometheus.Gatherer {
	return c.registry
}
