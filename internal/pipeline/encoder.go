package pipeline

import (
	"encoding/csv"
	"io"
	"strconv"

	"geobatch-backend/internal/geocode"
)

// resultColumns are appended to every output row in this exact order. The
// order is part of the response contract and must not change across
// requests.
var resultColumns = []string{
	"result_label",
	"result_score",
	"result_lon",
	"result_lat",
	"result_postcode",
	"result_city",
	"result_context",
}

// Encoder writes the enriched CSV response. Rows are flushed as they are
// written so large batches start streaming before the last row is geocoded.
type Encoder struct {
	writer *csv.Writer
}

// NewEncoder writes delimited output with the same delimiter the input was
// decoded with.
func NewEncoder(w io.Writer, delimiter rune) *Encoder {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	return &Encoder{writer: cw}
}

// WriteHeader emits the original header followed by the fixed result
// columns.
func (e *Encoder) WriteHeader(header []string) error {
	out := make([]string, 0, len(header)+len(resultColumns))
	out = append(out, header...)
	out = append(out, resultColumns...)
	if err := e.writer.Write(out); err != nil {
		return err
	}
	e.writer.Flush()
	return e.writer.Error()
}

// WriteRow emits one output row: the original columns unchanged, then the
// best candidate's fields, empty when the row produced no match.
func (e *Encoder) WriteRow(row []string, outcome geocode.Outcome) error {
	out := make([]string, 0, len(row)+len(resultColumns))
	out = append(out, row...)

	if outcome.Status == geocode.StatusFound && outcome.Best != nil {
		c := outcome.Best
		out = append(out,
			c.Label,
			formatScore(c.Score),
			formatCoordinate(c.Lon),
			formatCoordinate(c.Lat),
			c.Postcode,
			c.City,
			c.Context,
		)
	} else {
		for range resultColumns {
			out = append(out, "")
		}
	}

	if err := e.writer.Write(out); err != nil {
		return err
	}
	e.writer.Flush()
	return e.writer.Error()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
