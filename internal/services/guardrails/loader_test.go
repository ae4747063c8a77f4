package guardrails

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	defs, err := ParsePolicy([]byte(`
guardrails:
  - name: summary
    version: 1.0.0
    on_fail: LOG
    prompt:
      name: summarize
      template: "Summarize {{.input}}"
    constraints:
      - check: length
        params:
          min_len: 1
          max_len: 280
      - name: tone
        check: value_in_list
        severity: WARNING
        params:
          field: tone
          allowed: [neutral, friendly]
`))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "summary", def.Name)
	assert.Equal(t, "LOG", def.OnFail)
	require.NotNil(t, def.Prompt)
	assert.Equal(t, "summarize", def.Prompt.Name)
	require.Len(t, def.Constraints, 2)
	assert.Equal(t, 280, def.Constraints[0].Params["max_len"])
	assert.Equal(t, []interface{}{"neutral", "friendly"}, def.Constraints[1].Params["allowed"])

	_, err = newTestFactory(t).Build(def)
	assert.NoError(t, err)
}

func TestParsePolicy_Errors(t *testing.T) {
	_, err := ParsePolicy([]byte("guardrails:\n  - name: x\n    constraints:\n      - chek: length\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = ParsePolicy([]byte("guardrails:\n  - name: x\n    constraints:\n      - name: y\n"))
	assert.ErrorContains(t, err, "check is required")

	_, err = ParsePolicy([]byte("guardrails:\n  - name: x\n  - name: x\n"))
	assert.ErrorContains(t, err, "duplicate guardrail")

	defs, err := ParsePolicy(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLoadPolicyFile_Directory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b.yml", "guardrails:\n  - name: second\n    version: 1.0.0\n    constraints:\n      - check: json_parseable\n")
	write("a.yaml", "guardrails:\n  - name: first\n    version: 1.0.0\n    constraints:\n      - check: json_parseable\n")
	write("notes.txt", "not a policy")

	defs, err := LoadPolicyFile(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "first", defs[0].Name)
	assert.Equal(t, "second", defs[1].Name)

	write("c.yaml", "guardrails: [")
	_, err = LoadPolicyFile(dir)
	assert.ErrorContains(t, err, "c.yaml")
}
