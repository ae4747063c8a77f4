package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/guardrails"
)

const (
	DefaultMaxBatchSize = 100
	DefaultMaxBodyBytes = 1 << 20
)

type GuardrailHandler struct {
	logger       *zap.Logger
	validator    *guardrails.Validator
	registry     *guardrails.Registry
	maxBatchSize int
	maxBodyBytes int64
}

type GuardrailHandlerConfig struct {
	Logger       *zap.Logger
	Validator    *guardrails.Validator
	Registry     *guardrails.Registry
	MaxBatchSize int
	MaxBodyBytes int64
}

func NewGuardrailHandler(cfg *GuardrailHandlerConfig) *GuardrailHandler {
	h := &GuardrailHandler{
		logger:       cfg.Logger.Named("guardrail_handler"),
		validator:    cfg.Validator,
		registry:     cfg.Registry,
		maxBatchSize: cfg.MaxBatchSize,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if h.maxBatchSize <= 0 {
		h.maxBatchSize = DefaultMaxBatchSize
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}
	return h
}

// ValidateRequest carries one record. Version pins a guardrail version and
// may also be given as the ?version= query parameter.
type ValidateRequest struct {
	Record  interface{} `json:"record"`
	Version string      `json:"version,omitempty"`
}

type BatchRequest struct {
	Records []interface{} `json:"records"`
	Version string        `json:"version,omitempty"`
}

type BatchResponse struct {
	Results []*guardrails.ValidationResult `json:"results"`
	Valid   int                            `json:"valid"`
	Invalid int                            `json:"invalid"`
}

// RejectedResponse is sent with 422 when enforcement rejects the output
type RejectedResponse struct {
	Error    APIError             `json:"error"`
	Decision *guardrails.Decision `json:"decision"`
}

type GuardrailSummary struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	OnFail      string `json:"on_fail"`
	Constraints int    `json:"constraints"`
	Prompt      bool   `json:"prompt"`
}

// Validate evaluates one record and returns the ValidationResult. An invalid
// record is still a 200; the verdict is in the body.
func (h *GuardrailHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !h.decode(w, r, &req) {
		return
	}

	guardrail, err := h.lookup(r, req.Version)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	record, err := guardrails.RecordFrom(req.Record)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	result, err := h.validator.Validate(r.Context(), record, guardrail)
	if err != nil {
		h.contextOrError(w, r, err)
		return
	}
	sendJSON(h.logger, w, http.StatusOK, result)
}

// Enforce validates and enacts the resolved action
func (h *GuardrailHandler) Enforce(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !h.decode(w, r, &req) {
		return
	}

	guardrail, err := h.lookup(r, req.Version)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	record, err := guardrails.RecordFrom(req.Record)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	decision, err := h.validator.Enforce(r.Context(), record, guardrail)
	if err != nil {
		var rejected *guardrails.RejectedError
		if errors.As(err, &rejected) {
			sendJSON(h.logger, w, http.StatusUnprocessableEntity, RejectedResponse{
				Error: APIError{
					Message: rejected.Error(),
					Type:    "rejected",
					Code:    http.StatusUnprocessableEntity,
				},
				Decision: decision,
			})
			return
		}
		h.contextOrError(w, r, err)
		return
	}
	sendJSON(h.logger, w, http.StatusOK, decision)
}

// ValidateBatch evaluates many records concurrently. Results keep the order
// of the request.
func (h *GuardrailHandler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		sendError(h.logger, w, http.StatusBadRequest, "invalid_request_error", "records must not be empty")
		return
	}
	if len(req.Records) > h.maxBatchSize {
		sendError(h.logger, w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("batch of %d records exceeds the limit of %d", len(req.Records), h.maxBatchSize))
		return
	}

	guardrail, err := h.lookup(r, req.Version)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	records := make([]guardrails.Record, len(req.Records))
	for i, raw := range req.Records {
		record, err := guardrails.RecordFrom(raw)
		if err != nil {
			sendError(h.logger, w, http.StatusBadRequest, "invalid_request_error",
				fmt.Sprintf("record %d: %v", i, err))
			return
		}
		records[i] = record
	}

	results, err := h.validator.ValidateBatch(r.Context(), records, guardrail)
	if err != nil {
		h.contextOrError(w, r, err)
		return
	}

	resp := BatchResponse{Results: results}
	for _, result := range results {
		if result.IsValid {
			resp.Valid++
		} else {
			resp.Invalid++
		}
	}
	sendJSON(h.logger, w, http.StatusOK, resp)
}

// List returns every registered guardrail version
func (h *GuardrailHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.registry.List()
	summaries := make([]GuardrailSummary, 0, len(all))
	for _, g := range all {
		summaries = append(summaries, GuardrailSummary{
			Name:        g.Name(),
			Version:     g.Version(),
			Description: g.Description(),
			OnFail:      g.OnFail().String(),
			Constraints: g.Len(),
			Prompt:      g.IsPromptGuardRail(),
		})
	}

	sendJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   summaries,
	})
}

// Document renders the guardrail as markdown
func (h *GuardrailHandler) Document(w http.ResponseWriter, r *http.Request) {
	guardrail, err := h.lookup(r, "")
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(h.validator.Document(guardrail))); err != nil {
		h.logger.Error("Failed to write document", zap.Error(err))
	}
}

func (h *GuardrailHandler) lookup(r *http.Request, version string) (*guardrails.GuardRail, error) {
	if version == "" {
		version = r.URL.Query().Get("version")
	}
	return h.registry.Lookup(chi.URLParam(r, "name"), version)
}

func (h *GuardrailHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(h.logger, w, http.StatusRequestEntityTooLarge, "invalid_request_error",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		sendError(h.logger, w, http.StatusBadRequest, "invalid_request_error", "Invalid request body")
		return false
	}
	return true
}

// contextOrError reports a cancelled request without logging it as a failure
func (h *GuardrailHandler) contextOrError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		h.logger.Debug("Request cancelled during validation", zap.Error(err))
		sendError(h.logger, w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
		return
	}
	handleError(h.logger, w, err)
}
