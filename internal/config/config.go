// Package config provides configuration loading with multiple sources.
// The loading order (from lowest to highest priority):
//  1. Default values (in code)
//  2. Optional YAML configuration file
//  3. Environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the service.
type Config struct {
	Environment string    `yaml:"environment" validate:"oneof=development staging production"`
	Server      Server    `yaml:"server"`
	Upload      Upload    `yaml:"upload"`
	Pipeline    Pipeline  `yaml:"pipeline"`
	Geocoder    Geocoder  `yaml:"geocoder"`
	Telemetry   Telemetry `yaml:"telemetry"`
	Logging     Logging   `yaml:"logging"`
}

// Server holds HTTP server settings.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Upload holds admission limits for multipart uploads. These values are
// hot-reloadable through the Watcher.
type Upload struct {
	MaxBytes       int64 `yaml:"max_bytes" validate:"gt=0"`
	MaxParts       int   `yaml:"max_parts" validate:"gt=0"`
	MaxHeaderBytes int64 `yaml:"max_header_bytes" validate:"gt=0"`
	SampleBytes    int   `yaml:"sample_bytes" validate:"gt=0"`
}

// Pipeline holds batch execution settings. Hot-reloadable.
type Pipeline struct {
	WorkerConcurrency int           `yaml:"worker_concurrency" validate:"gt=0"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
	DrainGrace        time.Duration `yaml:"drain_grace"`
}

// Geocoder holds settings for the upstream geocoding engine.
type Geocoder struct {
	BaseURL          string        `yaml:"base_url" validate:"required,url"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	ResultLimit      int           `yaml:"result_limit" validate:"gt=0"`
	BreakerThreshold float64       `yaml:"breaker_threshold" validate:"gt=0,lte=1"`
	BreakerMinCalls  uint32        `yaml:"breaker_min_calls"`
	BreakerOpenFor   time.Duration `yaml:"breaker_open_for"`
}

// Telemetry holds settings for the telemetry fanout and its sinks.
type Telemetry struct {
	ServiceName   string        `yaml:"service_name" validate:"required"`
	QueueDepth    int           `yaml:"queue_depth" validate:"gt=0"`
	BatchSize     int           `yaml:"batch_size" validate:"gt=0"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
	RetryAttempts int           `yaml:"retry_attempts" validate:"gte=0"`
	OTLP          OTLPSink      `yaml:"otlp"`
	XRay          XRaySink      `yaml:"xray"`
}

// OTLPSink configures the OTLP collector sink.
type OTLPSink struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// XRaySink configures the legacy agent sink.
type XRaySink struct {
	Enabled    bool   `yaml:"enabled"`
	DaemonAddr string `yaml:"daemon_addr"`
}

// Logging holds logger settings.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Default returns a configuration with sensible defaults. The upload and
// pipeline defaults mirror the limits the service has run with in
// production: 50 MiB uploads, 100 multipart parts, 4 workers, 10 minute
// batch deadline.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: Server{
			Host:            "0.0.0.0",
			Port:            7878,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Upload: Upload{
			MaxBytes:       50 * 1024 * 1024,
			MaxParts:       100,
			MaxHeaderBytes: 64 * 1024,
			SampleBytes:    8 * 1024,
		},
		Pipeline: Pipeline{
			WorkerConcurrency: 4,
			RequestTimeout:    10 * time.Minute,
			DrainGrace:        2 * time.Second,
		},
		Geocoder: Geocoder{
			BaseURL:          "http://localhost:7879",
			Timeout:          10 * time.Second,
			ResultLimit:      1,
			BreakerThreshold: 0.8,
			BreakerMinCalls:  5,
			BreakerOpenFor:   30 * time.Second,
		},
		Telemetry: Telemetry{
			ServiceName:   "geobatch-backend",
			QueueDepth:    1024,
			BatchSize:     64,
			FlushInterval: 5 * time.Second,
			RetryAttempts: 0,
			OTLP: OTLPSink{
				Enabled:  true,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
			XRay: XRaySink{
				Enabled:    false,
				DaemonAddr: "127.0.0.1:2000",
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	loadEnvironmentVariables(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// loadEnvironmentVariables overlays environment variables on the
// configuration. This provides the highest priority configuration source.
func loadEnvironmentVariables(cfg *Config) {
	if val := os.Getenv("ENVIRONMENT"); val != "" {
		cfg.Environment = val
	}
	if val := os.Getenv("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Server.Port = port
		}
	}

	if val := os.Getenv("UPLOAD_MAX_BYTES"); val != "" {
		if n := parseInt64(val); n > 0 {
			cfg.Upload.MaxBytes = n
		}
	}
	if val := os.Getenv("UPLOAD_MAX_PARTS"); val != "" {
		if n := parseInt(val); n > 0 {
			cfg.Upload.MaxParts = n
		}
	}

	if val := os.Getenv("WORKERS"); val != "" {
		if n := parseInt(val); n > 0 {
			cfg.Pipeline.WorkerConcurrency = n
		}
	}
	if val := os.Getenv("WORKER_TIMEOUT"); val != "" {
		if n := parseInt(val); n > 0 {
			cfg.Pipeline.RequestTimeout = time.Duration(n) * time.Second
		}
	}

	if val := os.Getenv("GEOCODER_URL"); val != "" {
		cfg.Geocoder.BaseURL = val
	}

	if val := os.Getenv("OTEL_SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLP.Endpoint = val
		cfg.Telemetry.OTLP.Enabled = true
	}
	if val := os.Getenv("AWS_XRAY_DAEMON_ADDRESS"); val != "" {
		cfg.Telemetry.XRay.DaemonAddr = val
		cfg.Telemetry.XRay.Enabled = true
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

func parseInt(s string) int {
	val, _ := strconv.Atoi(s)
	return val
}

func parseInt64(s string) int64 {
	val, _ := strconv.ParseInt(s, 10, 64)
	return val
}
