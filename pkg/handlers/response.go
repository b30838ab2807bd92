package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
)

// maxRequestBodyBytes bounds JSON request bodies.
const maxRequestBodyBytes = 1 << 20

// ApiResponse wraps successful responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// StageErrorResponse is the body returned when a pipeline stage rejects a request.
// Error carries the stage error kind.
type StageErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Stage   string `json:"stage"`
	SQL     string `json:"sql,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StageErrorStatus maps a stage error kind to an HTTP status code.
func StageErrorStatus(kind apperrors.ErrorKind) int {
	switch kind {
	case apperrors.KindPermissionDenied:
		return http.StatusForbidden
	case apperrors.KindInvalidFilter:
		return http.StatusBadRequest
	case apperrors.KindShapeViolation, apperrors.KindColumnNotFound, apperrors.KindClassificationAmbiguous:
		return http.StatusUnprocessableEntity
	case apperrors.KindGenerationFailure, apperrors.KindExecutionFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WritePipelineError writes err as a StageErrorResponse when it is a stage error,
// and as a generic 500 otherwise.
func WritePipelineError(w http.ResponseWriter, err error, logger *zap.Logger) {
	se, ok := apperrors.AsStageError(err)
	if !ok {
		logger.Error("Pipeline failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process request", logger)
		return
	}

	resp := StageErrorResponse{
		Error:   string(se.Kind),
		Message: se.Message,
		Stage:   se.Stage,
		SQL:     se.SQL,
		Details: se.Details,
	}
	if err := WriteJSON(w, StageErrorStatus(se.Kind), resp); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeError writes an error response, logging encoding failures.
func writeError(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeData writes a successful ApiResponse.
func writeData(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// decodeJSON decodes a bounded JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body is too large", logger)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", logger)
		return false
	}
	return true
}
