package guardrails

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amerfu/pguard/internal/services/guardrails/builtin"
)

func TestDocument(t *testing.T) {
	length := mustConstraint(t)(builtin.LengthCheck(10, 100, "", builtin.WithDescription("Replies must be substantive")))
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "support-reply",
		Description: "Checks customer support replies.",
		Version:     "2.1.0",
		OnFail:      ActionEscalate,
		Constraints: []Constraint{
			builtin.NoPII(nil, builtin.WithFailAction(ActionFix)),
			length,
		},
	})

	doc := Document(g)

	assert.True(t, strings.HasPrefix(doc, "# support-reply\n"))
	assert.Contains(t, doc, "**Version:** 2.1.0")
	assert.Contains(t, doc, "**Default action:** ESCALATE")
	assert.Contains(t, doc, "Checks customer support replies.")
	assert.Contains(t, doc, "## Constraints (2)")
	assert.Contains(t, doc, "| 1 | no_pii | ERROR | FIX | redact_pii |")
	assert.Contains(t, doc, "| 2 | length_check | ERROR | ESCALATE (default) | - | `field=\"output\"` `max_len=100` `min_len=10` |")
	assert.Contains(t, doc, "- **length_check**: Replies must be substantive")
	assert.NotContains(t, doc, "## Prompt template")
}

func TestDocument_PromptGuardRail(t *testing.T) {
	g := mustGuardRail(t, GuardRailSpec{
		Name:        "summary",
		Constraints: []Constraint{fixedCheck("a", true, SeverityError, "")},
		Prompt:      &PromptTemplate{Name: "summarize", Template: "Summarize: {{.input}}\n"},
	})

	doc := Document(g)
	assert.True(t, g.IsPromptGuardRail())
	assert.Contains(t, doc, "## Prompt template")
	assert.Contains(t, doc, "**Name:** summarize")
	assert.Contains(t, doc, "```text\nSummarize: {{.input}}\n```")
	assert.NotContains(t, doc, "### Details")

	assert.Equal(t, doc, newTestValidator(Options{}).Document(g))
	assert.Empty(t, Document(nil))
}

func TestFormatParams(t *testing.T) {
	assert.Equal(t, "-", formatParams(nil))
	assert.Equal(t, "`allowed=[\"a\",\"b\"]` `pattern=\"^x|y$\"`",
		formatParams(map[string]any{"pattern": "^x|y$", "allowed": []any{"a", "b"}}))
	assert.Equal(t, `a\|b c`, cell("a|b\nc"))
}
