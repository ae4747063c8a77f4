package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
	"github.com/amerfu/pguard/pkg/circuitbreaker"
)

// fakePresidio serves /analyze and /anonymize, detecting the literal
// "john@example.com" as an EMAIL_ADDRESS
func fakePresidio(t *testing.T) *httptest.Server {
	const email = "john@example.com"

	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		var req PresidioAnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		found := []PresidioEntity{}
		if idx := strings.Index(req.Text, email); idx >= 0 {
			start := len([]rune(req.Text[:idx]))
			found = append(found, PresidioEntity{EntityType: "EMAIL_ADDRESS", Start: start, End: start + len(email), Score: 0.99})
		}
		_ = json.NewEncoder(w).Encode(found)
	})
	mux.HandleFunc("/anonymize", func(w http.ResponseWriter, r *http.Request) {
		var req PresidioAnonymizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(PresidioAnonymizeResponse{
			Text: strings.ReplaceAll(req.Text, email, "[EMAIL REDACTED]"),
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPresidio(url string) *Presidio {
	return NewPresidio(&config.PresidioConfig{
		AnalyzerURL:   url,
		AnonymizerURL: url,
		Timeout:       time.Second,
	}, zap.NewNop())
}

func TestPresidioChecker(t *testing.T) {
	srv := fakePresidio(t)
	checker := newTestPresidio(srv.URL).Checker(nil, 0)
	ctx := context.Background()

	result, err := checker.CheckContext(ctx, types.Record{"output": "Contact me at john@example.com"})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "EMAIL_ADDRESS")
	assert.Equal(t, "Contact me at <EMAIL_ADDRESS>", result.Excerpt)

	result, err = checker.CheckContext(ctx, types.Record{"output": "nothing to see"})
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestPresidioChecker_ServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestPresidio(srv.URL).Checker(nil, 0).CheckContext(context.Background(), types.Record{"output": "text"})
	assert.Error(t, err)
}

func TestPresidioChecker_OpenCircuitFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPresidio(&config.PresidioConfig{
		AnalyzerURL:      srv.URL,
		AnonymizerURL:    srv.URL,
		Timeout:          time.Second,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}, zap.NewNop())
	checker := p.Checker(nil, 0)
	record := types.Record{"output": "text"}

	for i := 0; i < 2; i++ {
		_, err := checker.CheckContext(context.Background(), record)
		require.Error(t, err)
	}
	_, err := checker.CheckContext(context.Background(), record)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, circuitbreaker.StateOpen, p.BreakerStates()["/analyze"]["state"])
}

func TestPresidioChecker_RespectsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestPresidio(srv.URL).Checker(nil, 0).CheckContext(ctx, types.Record{"output": "text"})
	assert.Error(t, err)
}

func TestPresidioCorrector(t *testing.T) {
	srv := fakePresidio(t)
	corrector := newTestPresidio(srv.URL).Corrector()

	record := types.Record{
		"output": "Contact me at john@example.com",
		"meta":   map[string]any{"cc": "john@example.com"},
		"score":  0.4,
	}
	fixed, err := corrector.Correct(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, "Contact me at [EMAIL REDACTED]", fixed["output"])
	assert.Equal(t, "[EMAIL REDACTED]", fixed["meta"].(map[string]any)["cc"])
	assert.Equal(t, 0.4, fixed["score"])
	assert.Equal(t, "Contact me at john@example.com", record["output"])
}

func TestPresidioConstructor(t *testing.T) {
	p := newTestPresidio("http://unused")
	build := p.Constructor()

	checker, err := build(map[string]any{"entities": []any{"EMAIL_ADDRESS"}, "score_threshold": 0.8})
	require.NoError(t, err)
	pc := checker.(*presidioChecker)
	assert.Equal(t, []string{"EMAIL_ADDRESS"}, pc.entities)
	assert.Equal(t, 0.8, pc.threshold)

	_, err = build(map[string]any{"entities": "EMAIL_ADDRESS"})
	assert.Error(t, err)
	_, err = build(map[string]any{"score_threshold": 2.0})
	assert.Error(t, err)
}

func TestPresidioHealthCheck(t *testing.T) {
	srv := fakePresidio(t)
	assert.NoError(t, newTestPresidio(srv.URL).HealthCheck(context.Background()))
}

func TestMaskEntities(t *testing.T) {
	text := "héllo john@example.com bye"
	start := len([]rune("héllo "))
	masked := maskEntities(text, []PresidioEntity{
		{EntityType: "EMAIL_ADDRESS", Start: start, End: start + len("john@example.com")},
		{EntityType: "BROKEN", Start: 100, End: 120},
	})
	assert.Equal(t, "héllo <EMAIL_ADDRESS> bye", masked)
}
