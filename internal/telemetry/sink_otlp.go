package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLPConfig holds OTLP sink configuration.
type OTLPConfig struct {
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
}

// OTLPSink replays finalized events as OpenTelemetry spans over OTLP/gRPC.
// It owns its tracer provider rather than installing a global one, so the
// fanout stays the only path events travel.
type OTLPSink struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTLPSink connects an OTLP/gRPC exporter to the configured collector
// endpoint.
func NewOTLPSink(ctx context.Context, config OTLPConfig) (*OTLPSink, error) {
	if config.ServiceName == "" {
		config.ServiceName = "geobatch-backend"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.DeploymentEnvironmentName(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &OTLPSink{
		provider: provider,
		tracer:   provider.Tracer("geobatch-backend/telemetry"),
	}, nil
}

func (s *OTLPSink) Name() string { return "otlp" }

// Export converts each event into a span with its recorded start and end
// timestamps and flushes the batch, so a failing collector is visible to the
// caller.
func (s *OTLPSink) Export(ctx context.Context, events []*Event) error {
	for _, e := range events {
		_, span := s.tracer.Start(ctx, e.Name,
			trace.WithTimestamp(e.Start),
			trace.WithSpanKind(trace.SpanKindInternal),
		)

		attrs := make([]attribute.KeyValue, 0, len(e.Attributes)+3)
		attrs = append(attrs,
			attribute.String("event.kind", string(e.Kind)),
			attribute.String("event.status", string(e.Status)),
			attribute.String("correlation_id", e.CorrelationID),
		)
		for k, v := range e.Attributes {
			attrs = append(attrs, attribute.String(k, v))
		}
		span.SetAttributes(attrs...)

		span.End(trace.WithTimestamp(e.Start.Add(e.Duration)))
	}
	return s.provider.ForceFlush(ctx)
}

func (s *OTLPSink) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}
