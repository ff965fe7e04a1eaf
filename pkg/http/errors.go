// Package http holds JSON response writers and request helpers shared by handlers.
package http

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteJSON writes v as JSON with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

// WriteUnprocessable is used for input the user may correct and resubmit
func WriteUnprocessable(w http.ResponseWriter, errorCode, message string) {
	WriteError(w, http.StatusUnprocessableEntity, errorCode, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

// WriteBadGateway reports an upstream failure. message is the upstream's own text.
func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, "external_service_error", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
