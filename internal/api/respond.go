package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"murmur/internal/logging"
	"murmur/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP status codes. Policy order is
// authenticate, then ownership, then everything else, so the mapping checks
// markers in that order too.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, services.ErrAuth):
		status = http.StatusUnauthorized
		message = "Authentication required"
	case errors.Is(err, services.ErrOwnership):
		status = http.StatusForbidden
		message = "Access denied"
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
		message = "Not found"
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrPubKeyFormat):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, services.ErrKeyUnwrap):
		message = "Failed to unwrap key"
	}

	if status == http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("request failed", logging.Error(err))
	}
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "", "decode request", "invalid JSON body", err)
	}
	return nil
}
