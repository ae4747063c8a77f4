package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/guardrails"
)

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func sendJSON(logger *zap.Logger, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func sendError(logger *zap.Logger, w http.ResponseWriter, status int, errType, message string) {
	sendJSON(logger, w, status, ErrorResponse{
		Error: APIError{
			Message: message,
			Type:    errType,
			Code:    status,
		},
	})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) (int, string) {
	var (
		cfgErr    *guardrails.ConfigError
		exportErr *audit.ExportError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, guardrails.ErrGuardrailNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.As(err, &exportErr):
		return http.StatusBadGateway, "export_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func handleError(logger *zap.Logger, w http.ResponseWriter, err error) {
	status, errType := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
	}
	sendError(logger, w, status, errType, err.Error())
}
