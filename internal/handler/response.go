package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so status codes and
// the error body shape are decided in one place.
//
// CONSISTENT ERROR FORMAT:
//   {"error": "not_found", "message": "user not found with id 42"}
//   {"error": "validation_error", "message": "...", "field": "nickname"}

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/apperror"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sets headers, then status, then body. Headers changed after the
// first Write are silently dropped by net/http.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// status is already on the wire
			logger.Error("failed to encode JSON response", zap.Error(err))
		}
	}
}

// writeError maps a domain error to an HTTP status.
//
//	ErrValidation → 400
//	ErrNotFound   → 404
//	ErrConflict   → 409
//	body too big  → 413
//	anything else → 500, details only in the log
func writeError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, logger, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "payload_too_large",
			Message: "request body is too large",
		})
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, kind := http.StatusInternalServerError, "internal_error"
		switch {
		case errors.Is(err, apperror.ErrValidation):
			status, kind = http.StatusBadRequest, "validation_error"
		case errors.Is(err, apperror.ErrNotFound):
			status, kind = http.StatusNotFound, "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status, kind = http.StatusConflict, "conflict"
		}

		if status == http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			writeJSON(w, logger, status, ErrorResponse{
				Error:   kind,
				Message: "An internal error occurred",
			})
			return
		}

		writeJSON(w, logger, status, ErrorResponse{
			Error:   kind,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	// NEVER expose internal error text: it can carry SQL or file paths.
	logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, logger, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
