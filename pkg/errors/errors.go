// Package errors defines the typed error taxonomy shared by the ingestion
// pipeline and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeInternal          ErrorType = "INTERNAL"
	ErrorTypePayloadTooLarge   ErrorType = "PAYLOAD_TOO_LARGE"
	ErrorTypeTooManyParts      ErrorType = "TOO_MANY_PARTS"
	ErrorTypeDecode            ErrorType = "DECODE_ERROR"
	ErrorTypeMalformedRow      ErrorType = "MALFORMED_ROW"
	ErrorTypeUnknownColumn     ErrorType = "UNKNOWN_COLUMN"
	ErrorTypeMissingCoordinate ErrorType = "MISSING_COORDINATE_COLUMNS"
	ErrorTypeGeocodeCall       ErrorType = "GEOCODE_CALL_FAILED"
	ErrorTypeCancelled         ErrorType = "PIPELINE_CANCELLED"
)

// AppError is the custom error type for the application
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for different error types

// NewValidation creates a validation error
func NewValidation(message string) error {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFound creates a not found error
func NewNotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// NewPayloadTooLarge creates an error for uploads exceeding the byte limit.
// The limit may be crossed on the declared length or mid-stream on actual
// bytes read.
func NewPayloadTooLarge(message string) error {
	return &AppError{Type: ErrorTypePayloadTooLarge, Message: message}
}

// NewTooManyParts creates an error for multipart uploads exceeding the part
// count limit.
func NewTooManyParts(message string) error {
	return &AppError{Type: ErrorTypeTooManyParts, Message: message}
}

// NewDecode creates an error for byte streams that cannot be interpreted
// under the declared or detected encoding.
func NewDecode(message string, err error) error {
	return &AppError{Type: ErrorTypeDecode, Message: message, Err: err}
}

// NewMalformedRow creates an error for rows whose field count does not match
// the header.
func NewMalformedRow(message string, err error) error {
	return &AppError{Type: ErrorTypeMalformedRow, Message: message, Err: err}
}

// NewUnknownColumn creates an error naming a column reference that does not
// resolve against the header.
func NewUnknownColumn(column string) error {
	return &AppError{Type: ErrorTypeUnknownColumn, Message: fmt.Sprintf("unknown column %q", column)}
}

// NewMissingCoordinate creates an error for reverse-mode uploads without
// resolvable latitude/longitude columns.
func NewMissingCoordinate(message string) error {
	return &AppError{Type: ErrorTypeMissingCoordinate, Message: message}
}

// NewGeocodeCall creates a per-row, non-fatal geocoder failure.
func NewGeocodeCall(message string, err error) error {
	return &AppError{Type: ErrorTypeGeocodeCall, Message: message, Err: err}
}

// NewCancelled creates an error for a pipeline stopped by timeout or client
// disconnect.
func NewCancelled(message string, err error) error {
	return &AppError{Type: ErrorTypeCancelled, Message: message, Err: err}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	// Otherwise, create an internal error
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the error type, or ErrorTypeInternal for untyped errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

func is(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// Type checking functions

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return is(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return is(err, ErrorTypeNotFound) }

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool { return is(err, ErrorTypeInternal) }

// IsPayloadTooLarge checks if an error is an upload size error
func IsPayloadTooLarge(err error) bool { return is(err, ErrorTypePayloadTooLarge) }

// IsTooManyParts checks if an error is a part count error
func IsTooManyParts(err error) bool { return is(err, ErrorTypeTooManyParts) }

// IsDecode checks if an error is an encoding decode error
func IsDecode(err error) bool { return is(err, ErrorTypeDecode) }

// IsMalformedRow checks if an error is a row shape error
func IsMalformedRow(err error) bool { return is(err, ErrorTypeMalformedRow) }

// IsUnknownColumn checks if an error is a column resolution error
func IsUnknownColumn(err error) bool { return is(err, ErrorTypeUnknownColumn) }

// IsMissingCoordinate checks if an error is a coordinate column error
func IsMissingCoordinate(err error) bool { return is(err, ErrorTypeMissingCoordinate) }

// IsGeocodeCall checks if an error is a per-row geocoder failure
func IsGeocodeCall(err error) bool { return is(err, ErrorTypeGeocodeCall) }

// IsCancelled checks if an error is a pipeline cancellation
func IsCancelled(err error) bool { return is(err, ErrorTypeCancelled) }
