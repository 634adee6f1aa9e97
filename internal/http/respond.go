package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/repository"
	"github.com/splax/memtimeline/internal/service/runs"
	"github.com/splax/memtimeline/internal/service/timeline"
)

var errInvalidBody = errors.New("invalid JSON body")

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var inconsistent *timeline.InconsistentDetailedMetricsError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &inconsistent):
		return http.StatusUnprocessableEntity
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errInvalidBody),
		errors.Is(err, domain.ErrInvalidInteraction),
		errors.Is(err, runs.ErrLabelRequired),
		errors.Is(err, runs.ErrNoDumps),
		errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// aggregationOutcome labels the aggregations_total counter.
func aggregationOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch statusFor(err) {
	case http.StatusUnprocessableEntity:
		return "inconsistent"
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "invalid"
	default:
		return "error"
	}
}
