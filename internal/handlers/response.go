// Package handlers provides the REST API served next to the event stream.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// statusFor maps an AppError code to an HTTP status.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrPermission:
		return http.StatusForbidden
	case apperrors.ErrUnsupported:
		return http.StatusUnprocessableEntity
	case apperrors.ErrMainAssetUpload:
		return http.StatusBadGateway
	case apperrors.ErrRemoteUnavailable, apperrors.ErrQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Error("request failed", err)
	}
	writeJSON(w, status, map[string]interface{}{
		"code":  apperrors.CodeOf(err),
		"error": err.Error(),
	})
}
