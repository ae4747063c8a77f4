package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/review"
)

func baseConfig() *config.Config {
	return &config.Config{
		Audit:  config.AuditConfig{Sink: config.SinkNone},
		Review: config.ReviewConfig{Backend: config.ReviewMemory},
		Guardrails: config.GuardrailsConfig{
			Definitions: []config.GuardrailDefinition{{
				Name:    "pii",
				Version: "1.0.0",
				OnFail:  "FIX",
				Constraints: []config.ConstraintDefinition{
					{Check: "no_pii"},
				},
			}},
		},
	}
}

func TestNew_InMemory(t *testing.T) {
	a, err := New(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Sink)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.IsType(t, &review.MemoryQueue{}, a.Review)
	assert.Equal(t, 1, a.Registry.Len())

	g, err := a.Registry.Lookup("pii", "")
	require.NoError(t, err)
	decision, err := a.Validator.Enforce(context.Background(), map[string]any{"output": "mail john@example.com"}, g)
	require.NoError(t, err)
	assert.Equal(t, "mail [EMAIL REDACTED]", decision.Output["output"])
}

func TestNew_FileSink(t *testing.T) {
	cfg := baseConfig()
	cfg.Audit = config.AuditConfig{Sink: config.SinkFile, FilePath: filepath.Join(t.TempDir(), "trace.ndjson")}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &audit.FileSink{}, a.Sink)
}

func TestNew_SinkRetries(t *testing.T) {
	cfg := baseConfig()
	cfg.Audit = config.AuditConfig{
		Sink:          config.SinkFile,
		FilePath:      filepath.Join(t.TempDir(), "trace.ndjson"),
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &audit.RetrySink{}, a.Sink)
	assert.IsType(t, &audit.FileSink{}, a.Sink.(*audit.RetrySink).Unwrap())
}

func TestNew_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{URL: "redis://" + mr.Addr()}
	cfg.Audit = config.AuditConfig{Sink: config.SinkRedis, Stream: "trace"}
	cfg.Review = config.ReviewConfig{Backend: config.ReviewRedis, QueueName: "review"}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Redis)
	assert.Equal(t, "redis:trace", a.Sink.Name())
	assert.IsType(t, &review.RedisQueue{}, a.Review)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{URL: "redis://127.0.0.1:1"}
	cfg.Audit = config.AuditConfig{Sink: config.SinkRedis}

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_BadGuardrail(t *testing.T) {
	cfg := baseConfig()
	cfg.Guardrails.Definitions[0].Constraints[0].Check = "no_such_check"

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_StdoutSink(t *testing.T) {
	cfg := baseConfig()
	cfg.Audit.Sink = config.SinkStdout

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &audit.WriterSink{}, a.Sink)
}
