package guardrails

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	constraints := []Constraint{fixedCheck("a", true, SeverityError, "")}

	for _, version := range []string{"1.9.0", "1.10.0", "1.2.3"} {
		require.NoError(t, r.Register(mustGuardRail(t, GuardRailSpec{Name: "reply", Version: version, Constraints: constraints})))
	}
	require.NoError(t, r.Register(mustGuardRail(t, GuardRailSpec{Name: "alpha", Constraints: constraints})))

	latest, ok := r.Get("reply")
	require.True(t, ok)
	assert.Equal(t, "1.10.0", latest.Version())

	old, ok := r.GetVersion("reply", "1.2.3")
	require.True(t, ok)
	assert.Equal(t, "reply@1.2.3", old.Key())

	err := r.Register(mustGuardRail(t, GuardRailSpec{Name: "reply", Version: "1.9.0", Constraints: constraints}))
	assert.Error(t, err)

	var keys []string
	for _, g := range r.List() {
		keys = append(keys, g.Key())
	}
	assert.Equal(t, []string{"alpha@1.0.0", "reply@1.2.3", "reply@1.9.0", "reply@1.10.0"}, keys)
	assert.Equal(t, 4, r.Len())

	assert.Error(t, r.Register(nil))
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(mustGuardRail(t, GuardRailSpec{
		Name:        "reply",
		Constraints: []Constraint{fixedCheck("a", true, SeverityError, "")},
	})))

	g, err := r.Lookup("reply", "")
	require.NoError(t, err)
	assert.Equal(t, "reply", g.Name())

	_, err = r.Lookup("reply", "2.0.0")
	assert.ErrorIs(t, err, ErrGuardrailNotFound)
	assert.Contains(t, err.Error(), "reply@2.0.0")

	_, err = r.Lookup("missing", "")
	assert.ErrorIs(t, err, ErrGuardrailNotFound)
}
