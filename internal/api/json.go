package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/starford/helmsman/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, apperr.ErrNotFound) {
		return http.StatusNotFound
	}
	switch apperr.Kind(err) {
	case "rate_limited":
		return http.StatusTooManyRequests
	case "invalid_url":
		return http.StatusBadRequest
	case "invalid_data":
		return http.StatusUnprocessableEntity
	case "fetch_failed", "network_error":
		return http.StatusBadGateway
	case "cache_unavailable", "cancelled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it with the status statusFor picks.
// Internal errors are not echoed to the client.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	status := statusFor(err)
	kind := apperr.Kind(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		slog.Warn(op+" failed", append(attrs, slog.String("error", err.Error()))...)
	}

	if rl, ok := apperr.AsRateLimited(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.ResetIn.Seconds()))))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errResponse{Error: msg, Kind: kind})
}
