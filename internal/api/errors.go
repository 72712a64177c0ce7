package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/indi-panel/internal/indi"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeNotConnected       = "not_connected"
	ErrCodeTransport          = "transport_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceUnavailable writes a 503 error response for a disabled feature.
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// writeEngineError maps an indi error onto an HTTP status. The engine's
// message (including the transport cause) is passed through.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, indi.ErrAlreadyConnected):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, indi.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConnected, err.Error())
	case errors.Is(err, indi.ErrConnectionFailed), errors.Is(err, indi.ErrSendFailed):
		writeError(w, http.StatusBadGateway, ErrCodeTransport, err.Error())
	case errors.Is(err, indi.ErrEmptyCommand), errors.Is(err, indi.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
