package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink is one telemetry exporter backend. Each sink owns its transport and
// failure mode; the fanout isolates them from each other and from callers.
type Sink interface {
	Name() string
	// Export delivers a batch of finalized events. It may block or fail;
	// the fanout's per-sink consumer absorbs both.
	Export(ctx context.Context, events []*Event) error
	Shutdown(ctx context.Context) error
}

// Options tune the per-sink dispatch queues.
type Options struct {
	// QueueDepth bounds the per-sink queue; newest events are dropped
	// when it is full.
	QueueDepth int
	// BatchSize is the maximum number of events per Export call.
	BatchSize int
	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration
	// RetryAttempts is the number of additional Export tries before a
	// batch is dropped. Zero means drop on first failure.
	RetryAttempts int
}

func (o Options) withDefaults() Options {
	if o.QueueDepth <= 0 {
		o.QueueDepth = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	return o
}

// Handle tracks one in-flight event between StartEvent and FinishEvent.
type Handle struct {
	event    *Event
	finished atomic.Bool
}

// Fanout is the process-wide instrumentation handle. It is constructed once
// at startup, passed by reference to every component, and drained at
// shutdown.
type Fanout struct {
	opts      Options
	workers   []*sinkWorker
	collector *Collector
	logger    *zap.Logger
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// NewFanout starts one consumer goroutine per sink. The collector is
// optional; when present, per-sink exported/dropped counts are published as
// metrics.
func NewFanout(sinks []Sink, opts Options, collector *Collector, logger *zap.Logger) *Fanout {
	f := &Fanout{
		opts:      opts.withDefaults(),
		collector: collector,
		logger:    logger,
	}

	for _, sink := range sinks {
		w := &sinkWorker{
			sink:   sink,
			queue:  make(chan *Event, f.opts.QueueDepth),
			quit:   make(chan struct{}),
			fanout: f,
		}
		f.workers = append(f.workers, w)
		f.wg.Add(1)
		go w.run()
	}
	return f
}

// StartEvent begins observing one unit of work. The returned context carries
// the correlation id; child events started from it correlate with this one
// across all sinks.
func (f *Fanout) StartEvent(ctx context.Context, kind Kind, name string, attributes map[string]string) (context.Context, *Handle) {
	id := CorrelationID(ctx)
	if id == "" {
		id = newCorrelationID()
		ctx = WithCorrelationID(ctx, id)
	}

	attrs := make(map[string]string, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}

	return ctx, &Handle{event: &Event{
		Kind:          kind,
		Name:          name,
		Start:         time.Now(),
		Attributes:    attrs,
		CorrelationID: id,
	}}
}

// FinishEvent finalizes the event and dispatches it to every sink. Dispatch
// never blocks: a full sink queue drops the event and increments that
// sink's dropped counter. Finishing a handle twice is a no-op.
func (f *Fanout) FinishEvent(h *Handle, status Status, extra map[string]string) {
	if h == nil || !h.finished.CompareAndSwap(false, true) {
		return
	}

	e := h.event
	e.Duration = time.Since(e.Start)
	e.Status = status
	for k, v := range extra {
		e.Attributes[k] = v
	}

	if f.closed.Load() {
		return
	}
	for _, w := range f.workers {
		select {
		case w.queue <- e:
		default:
			w.drop(1)
		}
	}
}

// DroppedEvents reports how many events a sink has dropped so far.
func (f *Fanout) DroppedEvents(sinkName string) uint64 {
	for _, w := range f.workers {
		if w.sink.Name() == sinkName {
			return w.dropped.Load()
		}
	}
	return 0
}

// Shutdown stops accepting events, flushes what each sink has queued and
// shuts the sinks down, bounded by ctx.
func (f *Fanout) Shutdown(ctx context.Context) error {
	f.closed.Store(true)
	for _, w := range f.workers {
		close(w.quit)
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, w := range f.workers {
		if err := w.sink.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sinkWorker is the single consumer owning all mutable state of one sink's
// dispatch loop.
type sinkWorker struct {
	sink    Sink
	queue   chan *Event
	quit    chan struct{}
	fanout  *Fanout
	dropped atomic.Uint64
	batch   []*Event
}

func (w *sinkWorker) run() {
	defer w.fanout.wg.Done()

	ticker := time.NewTicker(w.fanout.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-w.queue:
			w.batch = append(w.batch, e)
			if len(w.batch) >= w.fanout.opts.BatchSize {
				w.flush()
			}
		case <-ticker.C:
			w.flush()
		case <-w.quit:
			w.drain()
			w.flush()
			return
		}
	}
}

// drain empties whatever is buffered at shutdown without waiting for new
// events.
func (w *sinkWorker) drain() {
	for {
		select {
		case e := <-w.queue:
			w.batch = append(w.batch, e)
		default:
			return
		}
	}
}

func (w *sinkWorker) flush() {
	if len(w.batch) == 0 {
		return
	}
	batch := w.batch
	w.batch = nil

	var err error
	for attempt := 0; attempt <= w.fanout.opts.RetryAttempts; attempt++ {
		if err = w.sink.Export(context.Background(), batch); err == nil {
			w.exported(len(batch))
			return
		}
	}

	// A permanently unreachable sink degrades to pure drop.
	w.drop(len(batch))
	w.fanout.logger.Debug("telemetry sink export failed, batch dropped",
		zap.String("sink", w.sink.Name()),
		zap.Int("events", len(batch)),
		zap.Error(err),
	)
}

func (w *sinkWorker) drop(n int) {
	w.dropped.Add(uint64(n))
	if w.fanout.collector != nil {
		w.fanout.collector.SinkDropped.WithLabelValues(w.sink.Name()).Add(float64(n))
	}
}

func (w *sinkWorker) exported(n int) {
	if w.fanout.collector != nil {
		w.fanout.collector.SinkExported.WithLabelValues(w.sink.Name()).Add(float64(n))
	}
}
