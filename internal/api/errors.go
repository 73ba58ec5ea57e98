package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondStorageError maps a repository error to an HTTP response,
// distinguishing "row absent" from every other storage failure.
func respondStorageError(w http.ResponseWriter, err error) {
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, svcErr.Message, svcErr.Details)
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "not found", nil)
		return
	}
	respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
}

// Common error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
