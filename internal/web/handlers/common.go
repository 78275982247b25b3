package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/ingest"
	"github.com/kozaktomas/face-attendance/internal/vision"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors to HTTP status codes. Unknown members
// are checked before enrollment rejection because a rejection may wrap one.
func statusForError(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, vision.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrEnrollmentRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage is the error text a client may see. Server side failures
// hide their details.
func clientMessage(err error) string {
	switch statusForError(err) {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "storage unavailable"
	default:
		return err.Error()
	}
}

// respondDomainError sends err with the status statusForError picks.
func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), clientMessage(err))
}

// parseIDParam reads a positive integer URL parameter.
func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, sanitizeForLog(raw))
	}
	return id, nil
}
