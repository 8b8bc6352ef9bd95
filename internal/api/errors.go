package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/hass"
	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/worker"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeConflict   = "conflict"
	ErrCodeUpstream   = "upstream_error"
	ErrCodeInternal   = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeErr maps package errors to status codes.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var resErr *hass.ResultMessageError
	switch {
	case errors.Is(err, entry.ErrNotFound), errors.Is(err, worker.ErrUnknownSwitch):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, entry.ErrExists), errors.Is(err, worker.ErrAlreadyLoaded):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, hass.ErrNotConnected), errors.Is(err, hass.ErrConnectionLost), errors.As(err, &resErr):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
