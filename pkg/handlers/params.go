package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseRequestID extracts and validates the pipeline request ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: requestId
func ParseRequestID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("requestId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_id", "Invalid request ID format", logger)
		return uuid.Nil, false
	}
	return id, true
}

// ParseUserID extracts the user ID path parameter. User IDs are token subjects,
// not UUIDs, so only emptiness is checked.
// Expects path parameter: userId
func ParseUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	userID := strings.TrimSpace(r.PathValue("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "User ID is required", logger)
		return "", false
	}
	return userID, true
}
