package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MIRChain/mir-control-center/internal/plugin"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeNoRelease    = "no_release"
	ErrCodeNotRunning   = "not_running"
	ErrCodeStartFailure = "start_failed"
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

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnavailable writes a 503 error response.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writePluginError maps plugin sentinel errors onto HTTP statuses.
func writePluginError(w http.ResponseWriter, err error) {
	var startErr *plugin.ProcessStartError
	switch {
	case errors.Is(err, plugin.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, plugin.ErrAlreadyRunning), errors.Is(err, plugin.ErrBinaryInUse):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, plugin.ErrNoReleaseFound), errors.Is(err, plugin.ErrBinaryNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNoRelease, err.Error())
	case errors.Is(err, plugin.ErrNoActiveProcess):
		writeError(w, http.StatusConflict, ErrCodeNotRunning, err.Error())
	case errors.As(err, &startErr):
		writeError(w, http.StatusInternalServerError, ErrCodeStartFailure, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
