package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nolan/converse/internal/delta"
	"github.com/nolan/converse/internal/store"
)

// Error code constants for structured API error responses.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeDeviceNotFound     = "device_not_found"
	ErrCodeDeviceInactive     = "device_inactive"
	ErrCodeDuplicateDevice    = "duplicate_device"
	ErrCodeInvalidVectorClock = "invalid_vector_clock"
	ErrCodeStaleDeviceCounter = "stale_device_counter"
	ErrCodeConflictNotFound   = "conflict_not_found"
	ErrCodeAlreadyResolved    = "already_resolved"
	ErrCodeMissingResolution  = "missing_resolution"
	ErrCodeAutoMergeFailed    = "auto_merge_failed"
	ErrCodeInvalidDelta       = "invalid_delta"
	ErrCodeStoreUnavailable   = "store_unavailable"
)

// APIError represents a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON serialization.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Code: code, Message: message},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// writeEngineError maps engine sentinel errors to HTTP status and code.
// Anything unrecognized is a store failure: surfaced as 503 so the
// client can retry.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, store.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeDeviceNotFound, err.Error())
	case errors.Is(err, store.ErrDeviceInactive):
		writeError(w, http.StatusConflict, ErrCodeDeviceInactive, err.Error())
	case errors.Is(err, store.ErrDuplicateDevice):
		writeError(w, http.StatusConflict, ErrCodeDuplicateDevice, err.Error())
	case errors.Is(err, store.ErrInvalidVectorClock):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidVectorClock, err.Error())
	case errors.Is(err, store.ErrStaleDeviceCounter):
		writeError(w, http.StatusConflict, ErrCodeStaleDeviceCounter, err.Error())
	case errors.Is(err, store.ErrConflictNotFound):
		writeError(w, http.StatusNotFound, ErrCodeConflictNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, ErrCodeAlreadyResolved, err.Error())
	case errors.Is(err, store.ErrMissingResolution):
		writeError(w, http.StatusBadRequest, ErrCodeMissingResolution, err.Error())
	case errors.Is(err, store.ErrAutoMergeFailed):
		writeError(w, http.StatusConflict, ErrCodeAutoMergeFailed, err.Error())
	case errors.Is(err, delta.ErrInvalidDelta):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidDelta, err.Error())
	default:
		logFor(r.Context()).Error("store failure", "err", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "store unavailable")
	}
}

// errorCode returns the API error code for an engine error, for batch
// per-item reporting.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return ErrCodeBadRequest
	case errors.Is(err, store.ErrDeviceNotFound):
		return ErrCodeDeviceNotFound
	case errors.Is(err, store.ErrDeviceInactive):
		return ErrCodeDeviceInactive
	case errors.Is(err, store.ErrInvalidVectorClock):
		return ErrCodeInvalidVectorClock
	case errors.Is(err, store.ErrStaleDeviceCounter):
		return ErrCodeStaleDeviceCounter
	default:
		return ErrCodeStoreUnavailable
	}
}
