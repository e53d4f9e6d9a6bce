package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"modelhost/internal/catalog"
	"modelhost/internal/download"
	"modelhost/internal/manager"
	"modelhost/internal/service"
	"modelhost/internal/store"
	"modelhost/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, catalog.ErrFileNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, download.ErrAlreadyActive),
		errors.Is(err, download.ErrNotActive),
		errors.Is(err, download.ErrPaused),
		errors.Is(err, download.ErrCancelled),
		errors.Is(err, service.ErrNotDownloaded),
		errors.Is(err, service.ErrFileInUse),
		errors.Is(err, manager.ErrNoModelLoaded):
		return http.StatusConflict
	case errors.Is(err, download.ErrClosed), manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case manager.IsReadinessTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case download.IsNetwork(err), manager.IsUpstream(err), manager.IsSpawn(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	writeJSONError(w, status, err.Error())
	return status
}
