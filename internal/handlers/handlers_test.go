package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/guardrails"
	"github.com/amerfu/pguard/internal/services/guardrails/builtin"
	"github.com/amerfu/pguard/internal/services/review"
)

type testEnv struct {
	router    http.Handler
	validator *guardrails.Validator
	queue     *review.MemoryQueue
	exported  *bytes.Buffer
}

func newTestEnv(t *testing.T, action guardrails.FailAction, sink audit.Sink) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	registry := guardrails.NewRegistry(logger)
	for _, version := range []string{"1.0.0", "1.1.0"} {
		g, err := guardrails.NewGuardRail(guardrails.GuardRailSpec{
			Name:        "support-reply",
			Version:     version,
			Description: "Checks support replies",
			Constraints: []guardrails.Constraint{builtin.NoPII(nil, builtin.WithFailAction(action))},
		})
		require.NoError(t, err)
		require.NoError(t, registry.Register(g))
	}

	queue := review.NewMemoryQueue()
	validator := guardrails.NewValidator(logger, guardrails.Options{
		Correctors: guardrails.DefaultCorrectors(nil),
		Review:     queue,
	})

	env := &testEnv{validator: validator, queue: queue, exported: &bytes.Buffer{}}
	if sink == nil {
		sink = audit.NewWriterSink(env.exported)
	}

	gh := NewGuardrailHandler(&GuardrailHandlerConfig{
		Logger:       logger,
		Validator:    validator,
		Registry:     registry,
		MaxBatchSize: 3,
		MaxBodyBytes: 4096,
	})
	th := NewTraceHandler(logger, validator, sink)
	rh := NewReviewHandler(logger, queue)

	r := chi.NewRouter()
	r.Get("/v1/guardrails", gh.List)
	r.Post("/v1/guardrails/{name}/validate", gh.Validate)
	r.Post("/v1/guardrails/{name}/validate/batch", gh.ValidateBatch)
	r.Post("/v1/guardrails/{name}/enforce", gh.Enforce)
	r.Get("/v1/guardrails/{name}/document", gh.Document)
	r.Get("/v1/trace", th.Get)
	r.Post("/v1/trace/export", th.Export)
	r.Delete("/v1/trace", th.Delete)
	r.Get("/v1/review", rh.Pending)
	r.Post("/v1/review/dequeue", rh.Dequeue)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)

	rec := env.do(t, http.MethodPost, "/v1/guardrails/support-reply/validate", `{"record":{"output":"mail john@example.com"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result guardrails.ValidationResult
	decodeBody(t, rec, &result)
	assert.False(t, result.IsValid)
	assert.Equal(t, "support-reply", result.GuardrailName)
	assert.Equal(t, "1.1.0", result.GuardrailVersion)
	assert.Equal(t, guardrails.ActionReject, result.ActionTaken)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, builtin.CheckNoPII, result.Entries[0].ConstraintName)
}

func TestValidate_PinnedVersion(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)

	rec := env.do(t, http.MethodPost, "/v1/guardrails/support-reply/validate?version=1.0.0", `{"record":{"output":"fine"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result guardrails.ValidationResult
	decodeBody(t, rec, &result)
	assert.True(t, result.IsValid)
	assert.Equal(t, "1.0.0", result.GuardrailVersion)
}

func TestValidate_Errors(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown guardrail", "/v1/guardrails/missing/validate", `{"record":{}}`, http.StatusNotFound},
		{"unknown version", "/v1/guardrails/support-reply/validate?version=9.9.9", `{"record":{}}`, http.StatusNotFound},
		{"record is not an object", "/v1/guardrails/support-reply/validate", `{"record":[1,2]}`, http.StatusBadRequest},
		{"missing record", "/v1/guardrails/support-reply/validate", `{}`, http.StatusBadRequest},
		{"malformed json", "/v1/guardrails/support-reply/validate", `{"record":`, http.StatusBadRequest},
		{"body too large", "/v1/guardrails/support-reply/validate", `{"record":{"output":"` + strings.Repeat("a", 5000) + `"}}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.want, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
	assert.Zero(t, env.validator.TraceLen())
}

func TestEnforce_Rejected(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)

	rec := env.do(t, http.MethodPost, "/v1/guardrails/support-reply/enforce", `{"record":{"output":"SSN: 123-45-6789"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error    APIError `json:"error"`
		Decision struct {
			Action string                 `json:"action"`
			Output map[string]interface{} `json:"output"`
		} `json:"decision"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "rejected", resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "support-reply@1.1.0")
	assert.Equal(t, "REJECT", resp.Decision.Action)
	assert.Nil(t, resp.Decision.Output)
}

func TestEnforce_Fix(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionFix, nil)

	rec := env.do(t, http.MethodPost, "/v1/guardrails/support-reply/enforce", `{"record":{"output":"Contact me at john@example.com"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision guardrails.Decision
	decodeBody(t, rec, &decision)
	assert.Equal(t, guardrails.ActionFix, decision.Action)
	assert.True(t, decision.Corrected)
	assert.Equal(t, "Contact me at [EMAIL REDACTED]", decision.Output["output"])
}

func TestEnforce_EscalateThenReview(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionEscalate, nil)

	rec := env.do(t, http.MethodPost, "/v1/guardrails/support-reply/enforce", `{"record":{"output":"Contact me at john@example.com"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision guardrails.Decision
	decodeBody(t, rec, &decision)
	assert.True(t, decision.Escalated)

	rec = env.do(t, http.MethodGet, "/v1/review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending ReviewResponse
	decodeBody(t, rec, &pending)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, decision.ReviewID, pending.Items[0].ID)
	assert.Equal(t, int64(1), pending.Total)

	rec = env.do(t, http.MethodPost, "/v1/review/dequeue?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var claimed ReviewResponse
	decodeBody(t, rec, &claimed)
	assert.Equal(t, 1, claimed.Count)
	assert.Zero(t, claimed.Total)

	rec = env.do(t, http.MethodGet, "/v1/review?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateBatch(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)

	rec := env.do(t, http.MethodPost, "/v1/guardrails/support-reply/validate/batch",
		`{"records":[{"output":"ok"},{"output":"john@example.com"},{"output":"also ok"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].IsValid)
	assert.False(t, resp.Results[1].IsValid)
	assert.True(t, resp.Results[2].IsValid)
	assert.Equal(t, 2, resp.Valid)
	assert.Equal(t, 1, resp.Invalid)
}

func TestValidateBatch_Limits(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)
	path := "/v1/guardrails/support-reply/validate/batch"

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, path, `{"records":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, path, `{"records":[{},{},{},{}]}`).Code)

	rec := env.do(t, http.MethodPost, path, `{"records":[{},"text"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "record 1")
}

func TestListAndDocument(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)

	rec := env.do(t, http.MethodGet, "/v1/guardrails", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []GuardrailSummary `json:"data"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "1.0.0", list.Data[0].Version)
	assert.Equal(t, "1.1.0", list.Data[1].Version)
	assert.Equal(t, 1, list.Data[0].Constraints)

	rec = env.do(t, http.MethodGet, "/v1/guardrails/support-reply/document", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# support-reply\n"))

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/guardrails/nope/document", "").Code)
}

func TestTraceEndpoints(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, nil)
	env.do(t, http.MethodPost, "/v1/guardrails/support-reply/validate", `{"record":{"output":"ok"}}`)
	env.do(t, http.MethodPost, "/v1/guardrails/support-reply/validate", `{"record":{"output":"ok again"}}`)

	rec := env.do(t, http.MethodGet, "/v1/trace", "")
	var trace TraceResponse
	decodeBody(t, rec, &trace)
	assert.Equal(t, 2, trace.Count)

	rec = env.do(t, http.MethodPost, "/v1/trace/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	exported, err := audit.ReadNDJSON(env.exported)
	require.NoError(t, err)
	assert.Len(t, exported, 2)
	assert.Equal(t, 2, env.validator.TraceLen())

	rec = env.do(t, http.MethodPost, "/v1/trace/export?clear=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.validator.TraceLen())

	env.do(t, http.MethodPost, "/v1/guardrails/support-reply/validate", `{"record":{"output":"ok"}}`)
	rec = env.do(t, http.MethodDelete, "/v1/trace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":1}`, rec.Body.String())
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Write(context.Context, []audit.Record) error {
	return errors.New("sink unavailable")
}

func TestTraceExport_SinkFailure(t *testing.T) {
	env := newTestEnv(t, guardrails.ActionReject, failingSink{})
	env.do(t, http.MethodPost, "/v1/guardrails/support-reply/validate", `{"record":{"output":"ok"}}`)

	rec := env.do(t, http.MethodPost, "/v1/trace/export?clear=true", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1, env.validator.TraceLen())
}

func TestTraceExport_NoSink(t *testing.T) {
	logger := zap.NewNop()
	h := NewTraceHandler(logger, guardrails.NewValidator(logger, guardrails.Options{}), nil)

	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodPost, "/v1/trace/export", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
