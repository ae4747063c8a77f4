package guardrails

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/services/guardrails/builtin"
	"github.com/amerfu/pguard/internal/services/guardrails/providers"
)

func newTestFactory(t *testing.T) *Factory {
	f, err := NewFactoryFromConfig(nil, zap.NewNop())
	require.NoError(t, err)
	return f
}

func supportReplyDefinition() config.GuardrailDefinition {
	return config.GuardrailDefinition{
		Name:        "support-reply",
		Description: "Customer support replies",
		Version:     "1.2.0",
		OnFail:      "escalate",
		Prompt:      &config.PromptDefinition{Name: "reply", Template: "Answer: {{.question}}"},
		Constraints: []config.ConstraintDefinition{
			{Check: "no_pii", FailAction: "fix"},
			{Name: "reply_length", Check: "length", Severity: "warning", Params: map[string]interface{}{"min_len": 10, "max_len": 500}},
			{Check: "required_fields", Severity: "info", Params: map[string]interface{}{"fields": []interface{}{"output", "confidence"}}},
		},
	}
}

func TestFactory_Build(t *testing.T) {
	g, err := newTestFactory(t).Build(supportReplyDefinition())
	require.NoError(t, err)

	assert.Equal(t, "support-reply@1.2.0", g.Key())
	assert.Equal(t, ActionEscalate, g.OnFail())
	assert.True(t, g.IsPromptGuardRail())
	require.Equal(t, 3, g.Len())

	pii, ok := g.Constraint("no_pii")
	require.True(t, ok)
	assert.Equal(t, ActionFix, pii.FailAction)
	assert.Equal(t, builtin.CorrectorRedactPII, pii.Corrector)
	assert.Equal(t, SeverityError, pii.Severity)

	length, ok := g.Constraint("reply_length")
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, length.Severity)
	assert.Equal(t, 500, length.Params["max_len"])

	required, ok := g.Constraint("required_fields")
	require.True(t, ok)
	assert.Equal(t, SeverityInfo, required.Severity)
}

func TestFactory_BuiltGuardRailValidates(t *testing.T) {
	f := newTestFactory(t)
	g, err := f.Build(supportReplyDefinition())
	require.NoError(t, err)

	v := newTestValidator(Options{Correctors: f.Correctors()})
	decision, err := v.Enforce(context.Background(), Record{"output": "Mail john@example.com for a refund", "confidence": 0.9}, g)
	require.NoError(t, err)
	assert.Equal(t, ActionFix, decision.Action)
	assert.Equal(t, "Mail [EMAIL REDACTED] for a refund", decision.Output["output"])
}

func TestFactory_BuildErrors(t *testing.T) {
	base := func(mutate func(*config.GuardrailDefinition)) config.GuardrailDefinition {
		def := config.GuardrailDefinition{
			Name:        "g",
			Version:     "1.0.0",
			Constraints: []config.ConstraintDefinition{{Check: "json_parseable"}},
		}
		mutate(&def)
		return def
	}

	tests := []struct {
		name string
		def  config.GuardrailDefinition
		want string
	}{
		{"unknown check", base(func(d *config.GuardrailDefinition) { d.Constraints[0].Check = "telepathy" }), `unknown check "telepathy"`},
		{"bad severity", base(func(d *config.GuardrailDefinition) { d.Constraints[0].Severity = "fatal" }), "unknown severity"},
		{"bad action", base(func(d *config.GuardrailDefinition) { d.Constraints[0].FailAction = "ignore" }), "unknown fail action"},
		{"bad default action", base(func(d *config.GuardrailDefinition) { d.OnFail = "shrug" }), "invalid on_fail"},
		{"bad params", base(func(d *config.GuardrailDefinition) {
			d.Constraints[0] = config.ConstraintDefinition{Check: "regex", Params: map[string]interface{}{"pattern": "("}}
		}), "regex"},
		{"bad version", base(func(d *config.GuardrailDefinition) { d.Version = "v1" }), "invalid version"},
		{"no constraints", base(func(d *config.GuardrailDefinition) { d.Constraints = nil }), "at least one constraint"},
		{"duplicate names", base(func(d *config.GuardrailDefinition) {
			d.Constraints = append(d.Constraints, config.ConstraintDefinition{Check: "json_parseable"})
		}), "duplicate constraint name"},
	}

	f := newTestFactory(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Build(tt.def)
			require.Error(t, err)

			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFactory_PresidioRegistration(t *testing.T) {
	cfg := &config.Config{Presidio: config.PresidioConfig{
		Enabled:       true,
		AnalyzerURL:   "http://analyzer",
		AnonymizerURL: "http://anonymizer",
	}}

	f, err := NewFactoryFromConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, f.Presidio())
	assert.Contains(t, f.Catalog().Names(), providers.CheckPresidioPII)
	assert.Contains(t, f.Correctors().Names(), providers.CorrectorPresidioAnonymize)

	g, err := f.Build(config.GuardrailDefinition{
		Name:        "remote-pii",
		Version:     "1.0.0",
		Constraints: []config.ConstraintDefinition{{Check: providers.CheckPresidioPII, FailAction: "FIX"}},
	})
	require.NoError(t, err)
	c, _ := g.Constraint(providers.CheckPresidioPII)
	assert.Equal(t, providers.CorrectorPresidioAnonymize, c.Corrector)

	disabled := newTestFactory(t)
	assert.Nil(t, disabled.Presidio())
	assert.NotContains(t, disabled.Catalog().Names(), providers.CheckPresidioPII)
}

func TestFactory_CreateRegistry(t *testing.T) {
	dir := t.TempDir()
	policy := []byte(`
guardrails:
  - name: support-reply
    version: 2.0.0
    constraints:
      - check: no_pii
`)
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, policy, 0o644))

	registry, err := newTestFactory(t).CreateRegistry(&config.GuardrailsConfig{
		Definitions: []config.GuardrailDefinition{supportReplyDefinition()},
		PolicyFiles: []string{path},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Len())

	latest, ok := registry.Get("support-reply")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", latest.Version())

	_, err = newTestFactory(t).CreateRegistry(&config.GuardrailsConfig{
		PolicyFiles: []string{filepath.Join(dir, "missing.yaml")},
	})
	assert.Error(t, err)

	empty, err := newTestFactory(t).CreateRegistry(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}
