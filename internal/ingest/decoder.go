package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	appErrors "geobatch-backend/pkg/errors"
)

// DefaultEncoding is the encoding assumed when the upload does not declare
// one: UTF-8 with an optional byte order mark.
const DefaultEncoding = "utf-8-sig"

// RowRecord is one decoded data row. Seq is strictly increasing and
// contiguous from 0; records are never mutated after the decoder produces
// them.
type RowRecord struct {
	Seq    int
	Values []string
}

// DecoderOptions control decoding of an upload stream.
type DecoderOptions struct {
	// Delimiter is the explicit field separator; zero means auto-detect
	// from the sample prefix.
	Delimiter rune
	// Encoding is the declared charset name; empty means DefaultEncoding.
	Encoding string
	// SampleBytes bounds the prefix inspected for delimiter detection.
	SampleBytes int
}

// RowDecoder lazily decodes a delimited byte stream into RowRecords. It is
// single-pass: no seeking, no materialization of the full input. The header
// row is consumed at construction and never emitted as a RowRecord.
type RowDecoder struct {
	reader    *csv.Reader
	header    []string
	delimiter rune
	seq       int
}

// NewRowDecoder wraps r, resolves delimiter and encoding, and consumes the
// header row.
func NewRowDecoder(r io.Reader, opts DecoderOptions) (*RowDecoder, error) {
	sampleBytes := opts.SampleBytes
	if sampleBytes <= 0 {
		sampleBytes = 8 * 1024
	}

	br := bufio.NewReaderSize(r, sampleBytes)
	sample, err := br.Peek(sampleBytes)
	if len(sample) == 0 {
		if err != nil && err != io.EOF {
			return nil, classifyReadError(err)
		}
		return nil, appErrors.NewDecode("empty input", nil)
	}

	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter, _ = DetectDelimiter(sample)
	}

	decoded, err := charsetReader(opts.Encoding, br)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.Comma = delimiter
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, appErrors.NewDecode("input has no header row", nil)
		}
		return nil, classifyReadError(err)
	}

	return &RowDecoder{reader: cr, header: header, delimiter: delimiter}, nil
}

// Header returns the column names in file order.
func (d *RowDecoder) Header() []string {
	return d.header
}

// Delimiter returns the resolved field separator; the response stream reuses
// it.
func (d *RowDecoder) Delimiter() rune {
	return d.delimiter
}

// Next returns the next data row, io.EOF at end of stream, or a typed error
// for malformed input. After a non-EOF error the decoder must not be used
// again.
func (d *RowDecoder) Next() (RowRecord, error) {
	values, err := d.reader.Read()
	if err != nil {
		if err == io.EOF {
			return RowRecord{}, io.EOF
		}
		return RowRecord{}, classifyReadError(err)
	}

	rec := RowRecord{Seq: d.seq, Values: values}
	d.seq++
	return rec, nil
}

// classifyReadError maps csv/transform/guard failures onto the error
// taxonomy. Typed errors from the guard pass through unchanged.
func classifyReadError(err error) error {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		if errors.Is(parseErr.Err, csv.ErrFieldCount) {
			return appErrors.NewMalformedRow(
				fmt.Sprintf("line %d: field count does not match header", parseErr.Line), err)
		}
		return appErrors.NewDecode(fmt.Sprintf("line %d: unparsable row", parseErr.Line), err)
	}

	if errors.Is(err, encoding.ErrInvalidUTF8) {
		return appErrors.NewDecode("input is not valid UTF-8", err)
	}

	return appErrors.NewDecode("reading input stream", err)
}

// charsetReader wraps r with a decoder for the declared encoding. UTF-8
// variants are validated so undecodable bytes fail the stream instead of
// being silently replaced.
func charsetReader(name string, r io.Reader) (io.Reader, error) {
	switch normalizeEncoding(name) {
	case "utf-8-sig":
		return transform.NewReader(r, unicode.BOMOverride(encoding.UTF8Validator)), nil
	case "utf-8":
		return transform.NewReader(r, encoding.UTF8Validator), nil
	case "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "iso-8859-15":
		return charmap.ISO8859_15.NewDecoder().Reader(r), nil
	case "windows-1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, appErrors.NewDecode(fmt.Sprintf("unsupported encoding %q", name), nil)
	}
}

func normalizeEncoding(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8-sig", "utf8-sig":
		return "utf-8-sig"
	case "utf-8", "utf8":
		return "utf-8"
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return "iso-8859-1"
	case "latin-9", "iso-8859-15", "iso8859-15":
		return "iso-8859-15"
	case "windows-1252", "cp1252":
		return "windows-1252"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}
