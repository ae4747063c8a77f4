package guardrails

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// Document renders a guardrail's constraints as markdown. Guardrails with a
// prompt template also document the template.
func Document(g *types.GuardRail) string {
	if g == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", g.Name())
	fmt.Fprintf(&b, "**Version:** %s  \n", g.Version())
	fmt.Fprintf(&b, "**Default action:** %s\n\n", g.OnFail())
	if d := g.Description(); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}

	if p := g.Prompt(); p != nil {
		b.WriteString("## Prompt template\n\n")
		if p.Name != "" {
			fmt.Fprintf(&b, "**Name:** %s\n\n", p.Name)
		}
		b.WriteString("```text\n")
		b.WriteString(strings.TrimRight(p.Template, "\n"))
		b.WriteString("\n```\n\n")
	}

	fmt.Fprintf(&b, "## Constraints (%d)\n\n", g.Len())
	b.WriteString("| # | Constraint | Severity | On failure | Corrector | Parameters |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for i, c := range g.Constraints() {
		action := c.EffectiveAction(g.OnFail()).String()
		if c.FailAction == "" {
			action += " (default)"
		}
		corrector := c.Corrector
		if corrector == "" {
			corrector = "-"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			i+1, cell(c.Name), c.Severity, action, cell(corrector), cell(formatParams(c.Params)))
	}

	var described []types.Constraint
	for _, c := range g.Constraints() {
		if c.Description != "" {
			described = append(described, c)
		}
	}
	if len(described) > 0 {
		b.WriteString("\n### Details\n\n")
		for _, c := range described {
			fmt.Fprintf(&b, "- **%s**: %s\n", c.Name, c.Description)
		}
	}

	return b.String()
}

func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var value string
		switch v := params[k].(type) {
		case string:
			value = fmt.Sprintf("%q", v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				value = fmt.Sprint(v)
			} else {
				value = string(raw)
			}
		}
		parts = append(parts, fmt.Sprintf("`%s=%s`", k, value))
	}
	return strings.Join(parts, " ")
}

// cell escapes characters that would break a markdown table row
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
