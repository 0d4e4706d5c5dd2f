package http

import (
	"context"
	"encoding/json"
	"net/http"

	mw "github.com/lorrc/taskboard-realtime/internal/adapters/primary/http/middleware"
	apperrors "github.com/lorrc/taskboard-realtime/internal/core/errors"
)

// GetRequestID retrieves the request ID set by the RequestID middleware.
func GetRequestID(ctx context.Context) string {
	return mw.GetRequestID(ctx)
}

// ErrorResponse is a generic JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON is a helper to standardize JSON responses.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		return
	}
}

// WriteError renders an AppError as a JSON error response.
func WriteError(w http.ResponseWriter, appErr *apperrors.AppError) {
	WriteJSON(w, appErr.StatusCode, ErrorResponse{
		Error: appErr.Message,
		Code:  appErr.Code,
	})
}
