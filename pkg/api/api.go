// Package api provides standardized helper functions for HTTP API responses.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	appErrors "geobatch-backend/pkg/errors"
)

// ErrorResponse is the JSON body returned for rejected requests.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Success sends a standardized successful HTTP response with optional JSON data.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Error sends a standardized error response with consistent JSON format.
// The code is a machine-readable error identifier, the message is human
// readable.
func Error(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorFrom maps a typed application error to the proper HTTP status and
// writes the standard error body.
func ErrorFrom(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	Error(w, status, string(appErrors.TypeOf(err)), err.Error())
}

// StatusOf maps the error taxonomy onto HTTP status codes.
func StatusOf(err error) int {
	switch appErrors.TypeOf(err) {
	case appErrors.ErrorTypePayloadTooLarge, appErrors.ErrorTypeTooManyParts:
		return http.StatusRequestEntityTooLarge
	case appErrors.ErrorTypeValidation,
		appErrors.ErrorTypeDecode,
		appErrors.ErrorTypeMalformedRow,
		appErrors.ErrorTypeUnknownColumn,
		appErrors.ErrorTypeMissingCoordinate:
		return http.StatusBadRequest
	case appErrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case appErrors.ErrorTypeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
