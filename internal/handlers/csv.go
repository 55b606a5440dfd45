// Package handlers wires the HTTP surface: single-shot geocoding, batch CSV
// uploads and health endpoints.
package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"geobatch-backend/internal/config"
	"geobatch-backend/internal/geocode"
	"geobatch-backend/internal/ingest"
	"geobatch-backend/internal/pipeline"
	"geobatch-backend/internal/telemetry"
	"geobatch-backend/pkg/api"
	appErrors "geobatch-backend/pkg/errors"
)

// CSVHandler handles batch CSV geocoding uploads. Limits are read per
// request so hot-reloaded configuration applies immediately.
type CSVHandler struct {
	limits  func() config.Limits
	runner  *pipeline.Runner
	metrics *telemetry.Collector
	logger  *zap.Logger
}

// NewCSVHandler creates a CSV handler with injected dependencies.
func NewCSVHandler(limits func() config.Limits, runner *pipeline.Runner, metrics *telemetry.Collector, logger *zap.Logger) *CSVHandler {
	return &CSVHandler{
		limits:  limits,
		runner:  runner,
		metrics: metrics,
		logger:  logger,
	}
}

// SearchCSV handles POST /search/csv.
func (h *CSVHandler) SearchCSV(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, geocode.ModeForward)
}

// ReverseCSV handles POST /reverse/csv.
func (h *CSVHandler) ReverseCSV(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, geocode.ModeReverse)
}

// uploadForm holds the non-file form fields collected before the data part.
type uploadForm struct {
	columns   []string
	latColumn string
	lonColumn string
	encoding  string
	delimiter rune
}

func (h *CSVHandler) handle(w http.ResponseWriter, r *http.Request, mode geocode.Mode) {
	limits := h.limits()
	guard := ingest.NewGuard(ingest.Limits{
		MaxBytes:       limits.Upload.MaxBytes,
		MaxParts:       limits.Upload.MaxParts,
		MaxHeaderBytes: limits.Upload.MaxHeaderBytes,
	})

	if err := guard.CheckDeclaredSize(r.ContentLength); err != nil {
		h.reject(w, mode, err)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		h.reject(w, mode, appErrors.NewValidation("request is not a valid multipart upload"))
		return
	}

	// Non-file fields are collected until the data part shows up; the data
	// part is then streamed straight through the pipeline without
	// buffering, so fields must precede it in the form.
	form := uploadForm{}
	var file io.Reader
	parts := 0
	for file == nil {
		part, err := mr.NextPart()
		if err == io.EOF {
			h.reject(w, mode, appErrors.NewValidation("multipart upload has no data part; option fields must precede the data file"))
			return
		}
		if err != nil {
			h.reject(w, mode, appErrors.NewDecode("failed to read multipart part", err))
			return
		}

		parts++
		if err := guard.CheckPartCount(parts); err != nil {
			h.reject(w, mode, err)
			return
		}

		if part.FormName() == "data" || part.FileName() != "" {
			file = guard.LimitReader(part)
			break
		}
		if err := h.collectField(&form, part, guard); err != nil {
			h.reject(w, mode, err)
			return
		}
	}

	decoder, err := ingest.NewRowDecoder(file, ingest.DecoderOptions{
		Delimiter:   form.delimiter,
		Encoding:    form.encoding,
		SampleBytes: limits.Upload.SampleBytes,
	})
	if err != nil {
		h.reject(w, mode, err)
		return
	}

	declaration := ingest.Declaration{
		QueryColumns: form.columns,
		LatColumn:    form.latColumn,
		LonColumn:    form.lonColumn,
		Filters:      queryFilters(r),
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="geocoded.csv"`)

	err = h.runner.Process(r.Context(), pipeline.Job{
		Mode:        mode,
		Decoder:     decoder,
		Declaration: declaration,
		Output:      w,
	})
	if err != nil {
		// Mapping errors abort before the first byte of output; the
		// header above has been set but nothing written, so a
		// structured error response is still possible.
		if appErrors.IsUnknownColumn(err) || appErrors.IsMissingCoordinate(err) {
			w.Header().Del("Content-Disposition")
			h.reject(w, mode, err)
			return
		}
		// Streaming already started: the response is truncated, which
		// the client observes as an incomplete row count.
		h.metrics.CSVUploads.WithLabelValues(string(mode), "truncated").Inc()
		h.metrics.Errors.WithLabelValues(string(appErrors.TypeOf(err))).Inc()
		return
	}

	h.drainTrailingParts(mr, guard, parts)
	h.metrics.CSVUploads.WithLabelValues(string(mode), "ok").Inc()
}

// drainTrailingParts consumes parts after the data part. They arrive too
// late to alter a response that already streamed; they still count toward
// the part limit, and control fields misplaced after the file are flagged
// instead of vanishing.
func (h *CSVHandler) drainTrailingParts(mr *multipart.Reader, guard *ingest.Guard, parts int) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return
		}

		parts++
		if err := guard.CheckPartCount(parts); err != nil {
			h.logger.Warn("upload exceeded part limit after response streamed", zap.Error(err))
			h.metrics.Errors.WithLabelValues(string(appErrors.ErrorTypeTooManyParts)).Inc()
			return
		}

		switch part.FormName() {
		case "columns", "lat", "lon", "encoding", "delimiter":
			h.logger.Warn("form field ignored: option fields must precede the data part",
				zap.String("field", part.FormName()))
			h.metrics.Errors.WithLabelValues(string(appErrors.ErrorTypeValidation)).Inc()
		}
	}
}

// collectField reads one small form field through the guard so a payload
// cannot be smuggled in as a text field.
func (h *CSVHandler) collectField(form *uploadForm, part *multipart.Part, guard *ingest.Guard) error {
	value, err := io.ReadAll(guard.FieldReader(part))
	if err != nil {
		return err
	}

	switch part.FormName() {
	case "columns":
		form.columns = append(form.columns, string(value))
	case "lat":
		form.latColumn = string(value)
	case "lon":
		form.lonColumn = string(value)
	case "encoding":
		form.encoding = string(value)
	case "delimiter":
		d, size := utf8.DecodeRune(value)
		if size == 0 || size != len(value) {
			return appErrors.NewValidation("delimiter must be a single character")
		}
		form.delimiter = d
	default:
		// Unknown fields are ignored, matching lenient form handling.
	}
	return nil
}

// queryFilters maps every URL query parameter to a filter declaration:
// the parameter name is the filter key sent to the geocoder, its value the
// CSV column the per-row filter value is read from.
func queryFilters(r *http.Request) map[string]string {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	filters := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 && vals[0] != "" {
			filters[key] = vals[0]
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func (h *CSVHandler) reject(w http.ResponseWriter, mode geocode.Mode, err error) {
	h.metrics.CSVUploads.WithLabelValues(string(mode), "rejected").Inc()
	h.metrics.Errors.WithLabelValues(string(appErrors.TypeOf(err))).Inc()
	h.logger.Warn("csv upload rejected",
		zap.String("mode", string(mode)),
		zap.Error(err),
	)
	api.ErrorFrom(w, err)
}
