// Package ingest implements the upload admission and streaming row decode
// stages of the batch pipeline: byte/part limits, delimiter and encoding
// detection, lazy row decoding and column role resolution.
package ingest

import (
	"fmt"
	"io"

	appErrors "geobatch-backend/pkg/errors"
)

// Limits are the admission thresholds enforced before and during decoding.
type Limits struct {
	MaxBytes       int64
	MaxParts       int
	MaxHeaderBytes int64
}

// Guard rejects oversized uploads. Declared sizes are checked up front;
// actual bytes are counted while streaming because the declared length can
// be absent or wrong.
type Guard struct {
	limits Limits
}

// NewGuard creates a guard for the given limits.
func NewGuard(limits Limits) *Guard {
	return &Guard{limits: limits}
}

// CheckDeclaredSize rejects requests whose declared content length already
// exceeds the byte limit. A negative length means unknown and is admitted;
// the streaming counter still applies.
func (g *Guard) CheckDeclaredSize(contentLength int64) error {
	if contentLength > g.limits.MaxBytes {
		return appErrors.NewPayloadTooLarge(
			fmt.Sprintf("declared size %d exceeds limit of %d bytes", contentLength, g.limits.MaxBytes))
	}
	return nil
}

// CheckPartCount rejects multipart uploads with more parts than allowed.
func (g *Guard) CheckPartCount(parts int) error {
	if parts > g.limits.MaxParts {
		return appErrors.NewTooManyParts(
			fmt.Sprintf("upload has more than %d parts", g.limits.MaxParts))
	}
	return nil
}

// LimitReader wraps r so that reading past the byte limit fails with
// PayloadTooLarge instead of completing. The decode is aborted mid-stream,
// rows already flushed stay delivered.
func (g *Guard) LimitReader(r io.Reader) io.Reader {
	return &countingReader{reader: r, remaining: g.limits.MaxBytes}
}

// FieldReader wraps a small non-file part so a hostile client cannot smuggle
// the payload through a text field.
func (g *Guard) FieldReader(r io.Reader) io.Reader {
	return &countingReader{
		reader:    r,
		remaining: g.limits.MaxHeaderBytes,
		err:       appErrors.NewValidation(fmt.Sprintf("form field exceeds %d bytes", g.limits.MaxHeaderBytes)),
	}
}

type countingReader struct {
	reader    io.Reader
	remaining int64
	err       error
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, c.limitError()
	}
	if int64(len(p)) > c.remaining+1 {
		// One extra byte distinguishes "exactly at the limit" from over it.
		p = p[:c.remaining+1]
	}
	n, err := c.reader.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, c.limitError()
	}
	return n, err
}

func (c *countingReader) limitError() error {
	if c.err != nil {
		return c.err
	}
	return appErrors.NewPayloadTooLarge("upload exceeded byte limit mid-stream")
}
