package guardrails

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amerfu/pguard/internal/services/guardrails/builtin"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

func TestResolve_MostRestrictiveWins(t *testing.T) {
	tests := []struct {
		name    string
		actions []FailAction
		want    FailAction
	}{
		{"reject beats log", []FailAction{ActionLog, ActionReject}, ActionReject},
		{"escalate beats retry", []FailAction{ActionRetry, ActionEscalate}, ActionEscalate},
		{"retry beats log", []FailAction{ActionLog, ActionRetry}, ActionRetry},
		{"reject beats everything", []FailAction{ActionEscalate, ActionRetry, ActionReject, ActionLog}, ActionReject},
		{"single log", []FailAction{ActionLog}, ActionLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			constraints := make([]Constraint, len(tt.actions))
			for i, action := range tt.actions {
				constraints[i] = fixedCheck(string(rune('a'+i)), false, SeverityError, action)
			}
			g := mustGuardRail(t, GuardRailSpec{Name: "resolve", Constraints: constraints})

			result, err := newTestValidator(Options{}).Validate(context.Background(), Record{}, g)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.ActionTaken)
			assert.False(t, result.IsValid)
		})
	}
}

func TestResolve_DefaultAppliesWithoutOverride(t *testing.T) {
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "default",
		OnFail:      ActionEscalate,
		Constraints: []Constraint{fixedCheck("a", false, SeverityError, "")},
	})

	res := Resolve(g, []ValidationEntry{{ConstraintName: "a", Severity: SeverityError}}, nil)
	assert.Equal(t, ActionEscalate, res.Action)
}

func TestResolve_InfoNeverActs(t *testing.T) {
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "info",
		Constraints: []Constraint{fixedCheck("audit-only", false, SeverityInfo, ActionReject)},
	})

	result, err := newTestValidator(Options{}).Validate(context.Background(), Record{}, g)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, ActionLog, result.ActionTaken)
	assert.Zero(t, result.TotalErrors)
	assert.Zero(t, result.TotalWarnings)
}

func TestResolve_WarningsActButStayValid(t *testing.T) {
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "warn",
		Constraints: []Constraint{fixedCheck("soft", false, SeverityWarning, ActionEscalate)},
	})

	result, err := newTestValidator(Options{}).Validate(context.Background(), Record{}, g)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 1, result.TotalWarnings)
	assert.Equal(t, ActionEscalate, result.ActionTaken)
}

func TestResolve_NothingFailedIsLog(t *testing.T) {
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "clean",
		Constraints: []Constraint{fixedCheck("a", true, SeverityError, ActionReject)},
	})

	res := Resolve(g, []ValidationEntry{{ConstraintName: "a", Passed: true, Severity: SeverityError}}, nil)
	assert.Equal(t, ActionLog, res.Action)
	assert.Empty(t, res.Degraded)
}

func TestResolve_FixWithoutCorrectorDegrades(t *testing.T) {
	v := newTestValidator(Options{})
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "degrade",
		Constraints: []Constraint{builtin.NoPII(nil, builtin.WithFailAction(ActionFix))},
	})

	result, err := v.Validate(context.Background(), Record{"output": "SSN: 123-45-6789"}, g)
	require.NoError(t, err)
	assert.Equal(t, ActionReject, result.ActionTaken)
	assert.True(t, strings.HasSuffix(result.Entries[0].Message, "("+DegradedFixNote+")"))

	// the trace carries the annotated message too
	assert.Contains(t, v.Trace()[0].Message, DegradedFixNote)
}

func TestResolve_FixWithCorrector(t *testing.T) {
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "fix",
		Constraints: []Constraint{builtin.NoPII(nil, builtin.WithFailAction(ActionFix))},
	})

	res := Resolve(g, []ValidationEntry{{ConstraintName: "no_pii", Severity: SeverityError, Message: "PII detected: ssn"}}, DefaultCorrectors(nil))
	assert.Equal(t, ActionFix, res.Action)
	assert.Empty(t, res.Degraded)
	assert.Equal(t, "PII detected: ssn", res.Entries[0].Message)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "immutable",
		Constraints: []Constraint{fixedCheck("a", false, SeverityError, ActionFix)},
	})
	entries := []ValidationEntry{{ConstraintName: "a", Severity: SeverityError, Message: "failed"}}

	res := Resolve(g, entries, nil)
	assert.Equal(t, []string{"a"}, res.Degraded)
	assert.Equal(t, "failed", entries[0].Message)
}

func TestCorrectorsFor_ConstraintOrderWithoutRepeats(t *testing.T) {
	registry := NewCorrectorRegistry()
	noop := types.CorrectorFunc(func(_ context.Context, r types.Record) (types.Record, error) { return r, nil })
	require.NoError(t, registry.Register("first", noop))
	require.NoError(t, registry.Register("second", noop))

	withCorrector := func(c Constraint, name string) Constraint {
		c.Corrector = name
		return c
	}
	g := mustGuardRail(t, GuardRailSpec{
		Name: "order",
		Constraints: []Constraint{
			withCorrector(fixedCheck("a", false, SeverityError, ActionFix), "second"),
			withCorrector(fixedCheck("b", false, SeverityError, ActionFix), "first"),
			withCorrector(fixedCheck("c", false, SeverityError, ActionFix), "second"),
			withCorrector(fixedCheck("d", false, SeverityError, ActionLog), "first"),
		},
	})

	result, err := newTestValidator(Options{Correctors: registry}).Validate(context.Background(), Record{}, g)
	require.NoError(t, err)

	var names []string
	for _, c := range correctorsFor(g, result, registry) {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"second", "first"}, names)
}

func TestCorrectorRegistry(t *testing.T) {
	r := DefaultCorrectors(nil)
	assert.Equal(t, []string{builtin.CorrectorRedactPII}, r.Names())

	_, ok := r.Get(builtin.CorrectorRedactPII)
	assert.True(t, ok)
	_, ok = r.Get("")
	assert.False(t, ok)

	assert.Error(t, r.Register(builtin.CorrectorRedactPII, builtin.RedactPII(nil)))
	assert.Error(t, r.Register("", nil))

	var nilRegistry *CorrectorRegistry
	_, ok = nilRegistry.Get("anything")
	assert.False(t, ok)
	assert.Nil(t, nilRegistry.Names())
}
