package httpapi

import (
	"errors"
	"net/http"

	"github.com/exzibtx/deployd/internal/domain"
	"github.com/exzibtx/deployd/internal/permission"
	"github.com/exzibtx/deployd/internal/store"
	"github.com/exzibtx/deployd/pkg/httpx"
	"github.com/exzibtx/deployd/pkg/slogx"
)

// ErrorResponse is the body for every non-validation failure.
type ErrorResponse struct {
	Message string `json:"message"`
}

// writeError maps the service error taxonomy onto status codes. Validation
// failures carry the aggregated field map; everything unexpected collapses
// to a logged 500 with no detail leaked.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if verr, ok := domain.AsValidationError(err); ok {
		httpx.WriteJSON(w, http.StatusBadRequest, verr)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		httpx.WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Message: "invalid credentials"})
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteJSON(w, http.StatusNotFound, ErrorResponse{Message: "not found"})
	case errors.Is(err, permission.ErrVetoed):
		httpx.WriteJSON(w, http.StatusForbidden, ErrorResponse{Message: "forbidden"})
	default:
		slogx.FromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
	}
}
