package pipeline

import (
	"context"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"geobatch-backend/internal/geocode"
	"geobatch-backend/internal/ingest"
	"geobatch-backend/internal/telemetry"
	appErrors "geobatch-backend/pkg/errors"
)

// Job describes one batch geocoding request after its upload has been
// admitted and its header decoded.
type Job struct {
	Mode        geocode.Mode
	Decoder     *ingest.RowDecoder
	Declaration ingest.Declaration
	Output      io.Writer
}

// Runner drives the batch pipeline: decode rows, build tasks, geocode them
// through the bounded pool, and stream enriched rows back out in input
// order. The pool is built per job through newPool so hot-reloaded worker
// settings apply to the next upload without a restart.
type Runner struct {
	newPool  func() *Pool
	geocoder geocode.Geocoder
	fanout   *telemetry.Fanout
	metrics  *telemetry.Collector
	logger   *zap.Logger
}

func NewRunner(newPool func() *Pool, geocoder geocode.Geocoder, fanout *telemetry.Fanout, metrics *telemetry.Collector, logger *zap.Logger) *Runner {
	return &Runner{
		newPool:  newPool,
		geocoder: geocoder,
		fanout:   fanout,
		metrics:  metrics,
		logger:   logger,
	}
}

// Process runs one job to completion. Errors returned before the first
// output row map to structured error responses; errors after streaming has
// begun truncate the response instead, which the caller observes as an
// incomplete row count.
func (r *Runner) Process(ctx context.Context, job Job) error {
	mapping, err := ingest.ResolveMapping(job.Decoder.Header(), job.Declaration, job.Mode == geocode.ModeReverse)
	if err != nil {
		return err
	}

	ctx, jobEvent := r.fanout.StartEvent(ctx, telemetry.KindJob, "csv_batch", map[string]string{
		"mode": string(job.Mode),
	})

	encoder := NewEncoder(job.Output, job.Decoder.Delimiter())
	if err := encoder.WriteHeader(job.Decoder.Header()); err != nil {
		r.fanout.FinishEvent(jobEvent, telemetry.StatusError, nil)
		return appErrors.NewInternal("failed to write response header", err)
	}

	pool := r.newPool()

	// The rows buffer must hold at least as many records as the pool can
	// have in flight, or the producer deadlocks against the ordered
	// output.
	depth := int(2*pool.workers + 4)
	rows := make(chan ingest.RowRecord, depth)
	tasks := make(chan geocode.Task, depth)

	var readErr error
	go func() {
		defer close(rows)
		defer close(tasks)
		for {
			if ctx.Err() != nil {
				readErr = appErrors.NewCancelled("batch cancelled", ctx.Err())
				return
			}
			record, err := job.Decoder.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				readErr = err
				return
			}
			// Sends race against cancellation: once the pool stops
			// consuming, blocking here would never resolve.
			select {
			case rows <- record:
			case <-ctx.Done():
				readErr = appErrors.NewCancelled("batch cancelled", ctx.Err())
				return
			}
			select {
			case tasks <- geocode.BuildTask(record, mapping, job.Mode):
			case <-ctx.Done():
				readErr = appErrors.NewCancelled("batch cancelled", ctx.Err())
				return
			}
		}
	}()

	var rowCount, errorCount int
	var writeErr error
	for outcome := range pool.Run(ctx, tasks, r.exec) {
		record := <-rows
		rowCount++
		if outcome.Status == geocode.StatusError {
			errorCount++
		}
		r.metrics.CSVRows.WithLabelValues(string(job.Mode), string(outcome.Status)).Inc()

		if writeErr != nil {
			continue
		}
		if err := encoder.WriteRow(record.Values, outcome); err != nil {
			// The client went away; keep draining outcomes so the
			// pool and decoder goroutines can finish.
			writeErr = appErrors.NewCancelled("client disconnected", err)
		}
	}
	for range rows {
	}

	status := telemetry.StatusOK
	finalErr := writeErr
	if finalErr == nil {
		finalErr = readErr
	}
	if finalErr != nil || errorCount > 0 {
		status = telemetry.StatusError
	}
	r.fanout.FinishEvent(jobEvent, status, map[string]string{
		"rows":       strconv.Itoa(rowCount),
		"row_errors": strconv.Itoa(errorCount),
	})

	if finalErr != nil {
		r.logger.Warn("batch truncated",
			zap.String("mode", string(job.Mode)),
			zap.Int("rows_emitted", rowCount),
			zap.Error(finalErr),
		)
	}
	return finalErr
}

// exec geocodes one task. Failures become error outcomes, never batch
// aborts.
func (r *Runner) exec(ctx context.Context, task geocode.Task) geocode.Outcome {
	_, rowEvent := r.fanout.StartEvent(ctx, telemetry.KindRow, "geocode_row", map[string]string{
		"mode": string(task.Mode),
	})

	start := time.Now()
	var candidates []geocode.Candidate
	var err error
	switch task.Mode {
	case geocode.ModeReverse:
		candidates, err = r.geocoder.Reverse(ctx, task.Lat, task.Lon, task.Filters)
	default:
		candidates, err = r.geocoder.Search(ctx, task.Query, task.Bias, task.Filters)
	}
	r.metrics.GeocodeDuration.WithLabelValues(string(task.Mode)).Observe(time.Since(start).Seconds())

	outcome := geocode.Outcome{Seq: task.Seq}
	switch {
	case err != nil:
		outcome.Status = geocode.StatusError
		outcome.ErrorDetail = err.Error()
		r.metrics.GeocodeOps.WithLabelValues(string(task.Mode), "error").Inc()
		r.metrics.Errors.WithLabelValues(string(appErrors.ErrorTypeGeocodeCall)).Inc()
	case len(candidates) == 0:
		outcome.Status = geocode.StatusNotFound
		r.metrics.GeocodeOps.WithLabelValues(string(task.Mode), "not_found").Inc()
	default:
		outcome.Status = geocode.StatusFound
		outcome.Best = &candidates[0]
		r.metrics.GeocodeOps.WithLabelValues(string(task.Mode), "found").Inc()
	}

	r.fanout.FinishEvent(rowEvent, rowStatus(outcome.Status), nil)
	return outcome
}

func rowStatus(s geocode.Status) telemetry.Status {
	if s == geocode.StatusError {
		return telemetry.StatusError
	}
	return telemetry.StatusOK
}

