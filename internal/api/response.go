package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yourusername/trio-odds/internal/bridge"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service and bridge errors to HTTP status codes
func statusFor(err error) int {
	var bErr *bridge.Error
	switch {
	case errors.Is(err, models.ErrInvalidRaceKey),
		errors.Is(err, service.ErrInvalidHorse),
		errors.Is(err, service.ErrInvalidRange),
		errors.Is(err, odds.ErrUnsupportedMarket):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrNotFound), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoOdds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &bErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}
