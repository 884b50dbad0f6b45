package http

import (
	"errors"
	"net/http"

	"conductor/internal/app/runs"
	"conductor/internal/domain/directive"
	"conductor/internal/domain/selector"
	jsonx "conductor/internal/shared/json"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSON serialises payload as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonx.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := mapDomainError(err)
	writeJSON(w, status, errorResponse{Error: msg, Details: err.Error()})
}

// mapDomainError translates service errors into a status code and message.
func mapDomainError(err error) (int, string) {
	var parseErr *directive.SpecParseError
	var noArms *selector.NoArmsAvailableError
	switch {
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, "invalid directive"
	case errors.As(err, &noArms):
		return http.StatusUnprocessableEntity, "no arms available"
	case errors.Is(err, runs.ErrRunNotFound):
		return http.StatusNotFound, "run not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
