// Package telemetry implements the dual-backend instrumentation fanout:
// every request, batch job and row is recorded as an event and dispatched
// asynchronously to independent exporter sinks. Slow or dead sinks drop
// events; they never block or fail the request path.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind classifies the observed unit of work.
type Kind string

const (
	KindRequest Kind = "request"
	KindRow     Kind = "row"
	KindJob     Kind = "job"
)

// Status is the terminal state of an event.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Event is one finalized observable unit. It is immutable once handed to
// the fanout; sinks receive the same instance and must treat it as
// read-only.
type Event struct {
	Kind          Kind
	Name          string
	Start         time.Time
	Duration      time.Duration
	Attributes    map[string]string
	Status        Status
	CorrelationID string
}

type correlationKey struct{}

// CorrelationID returns the identifier correlating all events of one
// request across every sink, or "" when the context carries none.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID stores an identifier in the context; subsequent child
// events inherit it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func newCorrelationID() string {
	return uuid.New().String()
}
