// Command api runs the batch geocoding HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"geobatch-backend/internal/config"
	"geobatch-backend/internal/geocode"
	"geobatch-backend/internal/handlers"
	"geobatch-backend/internal/middleware"
	"geobatch-backend/internal/pipeline"
	"geobatch-backend/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := telemetry.NewCollector("geobatch")

	sinks, sinkNames, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	fanout := telemetry.NewFanout(sinks, telemetry.Options{
		QueueDepth:    cfg.Telemetry.QueueDepth,
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
		RetryAttempts: cfg.Telemetry.RetryAttempts,
	}, collector, logger)

	geocoder := geocode.NewClient(geocode.ClientConfig{
		BaseURL:          cfg.Geocoder.BaseURL,
		Timeout:          cfg.Geocoder.Timeout,
		ResultLimit:      cfg.Geocoder.ResultLimit,
		BreakerThreshold: cfg.Geocoder.BreakerThreshold,
		BreakerMinCalls:  cfg.Geocoder.BreakerMinCalls,
		BreakerOpenFor:   cfg.Geocoder.BreakerOpenFor,
	}, logger)

	watcher, err := config.NewWatcher(configPath, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to watch configuration: %w", err)
	}
	go watcher.Run(ctx)

	// Each upload gets a fresh pool built from the current limit snapshot,
	// so a reloaded worker ceiling or drain grace applies to the next job.
	newPool := func() *pipeline.Pool {
		limits := watcher.Limits().Pipeline
		return pipeline.NewPool(
			limits.WorkerConcurrency,
			cfg.Geocoder.Timeout,
			limits.DrainGrace,
			logger,
		)
	}
	runner := pipeline.NewRunner(newPool, geocoder, fanout, collector, logger)

	csvHandler := handlers.NewCSVHandler(watcher.Limits, runner, collector, logger)
	searchHandler := handlers.NewSearchHandler(geocoder, collector, logger)
	healthHandler := handlers.NewHealthHandler(fanout, sinkNames, version)

	router := buildRouter(cfg, collector, fanout, watcher, logger, csvHandler, searchHandler, healthHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Environment),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := fanout.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry drain incomplete", zap.Error(err))
	}
	return nil
}

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func buildRouter(
	cfg *config.Config,
	collector *telemetry.Collector,
	fanout *telemetry.Fanout,
	watcher *config.Watcher,
	logger *zap.Logger,
	csvHandler *handlers.CSVHandler,
	searchHandler *handlers.SearchHandler,
	healthHandler *handlers.HealthHandler,
) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Metrics(collector))
	r.Use(middleware.Telemetry(fanout))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/metrics", healthHandler.RuntimeStats)
	r.Method("GET", "/metrics", collector.Handler())

	r.Get("/search", searchHandler.Search)
	r.Get("/reverse", searchHandler.Reverse)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(func() time.Duration {
			return watcher.Limits().Pipeline.RequestTimeout
		}, logger))
		r.Post("/search/csv", csvHandler.SearchCSV)
		r.Post("/reverse/csv", csvHandler.ReverseCSV)
	})

	return r
}

func buildLogger(cfg config.Logging) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func buildSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]telemetry.Sink, []string, error) {
	var sinks []telemetry.Sink
	var names []string

	if cfg.Telemetry.OTLP.Enabled {
		sink, err := telemetry.NewOTLPSink(ctx, telemetry.OTLPConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.OTLP.Endpoint,
			Insecure:    cfg.Telemetry.OTLP.Insecure,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OTLP sink: %w", err)
		}
		sinks = append(sinks, sink)
		names = append(names, sink.Name())
		logger.Info("OTLP sink enabled", zap.String("endpoint", cfg.Telemetry.OTLP.Endpoint))
	}

	if cfg.Telemetry.XRay.Enabled {
		sink, err := telemetry.NewXRaySink(telemetry.XRayConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			DaemonAddr:  cfg.Telemetry.XRay.DaemonAddr,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize X-Ray sink: %w", err)
		}
		sinks = append(sinks, sink)
		names = append(names, sink.Name())
		logger.Info("X-Ray sink enabled", zap.String("daemon", cfg.Telemetry.XRay.DaemonAddr))
	}

	return sinks, names, nil
}
