package telemetry

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// XRayConfig holds configuration for the legacy X-Ray agent sink.
type XRayConfig struct {
	ServiceName string
	DaemonAddr  string
}

// XRaySink forwards finalized events to a local X-Ray daemon as segments.
// It coexists with the OTLP sink so both tracing backends see the same
// events with the same correlation id.
type XRaySink struct {
	serviceName string
}

// NewXRaySink configures the X-Ray SDK to talk to the given daemon address.
func NewXRaySink(config XRayConfig) (*XRaySink, error) {
	if config.ServiceName == "" {
		config.ServiceName = "geobatch-backend"
	}
	if err := xray.Configure(xray.Config{
		DaemonAddr:     config.DaemonAddr,
		ServiceVersion: "1.0.0",
	}); err != nil {
		return nil, fmt.Errorf("failed to configure X-Ray: %w", err)
	}
	return &XRaySink{serviceName: config.ServiceName}, nil
}

func (s *XRaySink) Name() string { return "xray" }

// Export emits one segment per event. Annotations are indexed by X-Ray, so
// the correlation id goes there; everything else rides as metadata.
func (s *XRaySink) Export(ctx context.Context, events []*Event) error {
	for _, e := range events {
		_, seg := xray.BeginSegment(ctx, fmt.Sprintf("%s.%s", s.serviceName, e.Name))

		// Segments are emitted after the fact, so carry the real start
		// time; Close stamps the end when the segment is sent.
		seg.Lock()
		seg.StartTime = float64(e.Start.UnixNano()) / 1e9
		seg.Unlock()

		seg.AddAnnotation("correlation_id", e.CorrelationID)
		seg.AddAnnotation("kind", string(e.Kind))
		seg.AddAnnotation("status", string(e.Status))
		for k, v := range e.Attributes {
			seg.AddMetadata(k, v)
		}
		if e.Status == StatusError {
			seg.Lock()
			seg.Error = true
			seg.Unlock()
		}

		seg.Close(nil)
	}
	return nil
}

func (s *XRaySink) Shutdown(ctx context.Context) error {
	return nil
}
