package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/ironkey/transport"
	"github.com/jmcleod/ironkey/transport/rest"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rest.ErrorResponse{Error: msg})
}

func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, transport.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, transport.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, transport.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, transport.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
