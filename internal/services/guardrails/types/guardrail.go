package types

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Constraint is a single named validation rule
type Constraint struct {
	Name        string
	Description string
	Check       Checker
	// Params holds the parameters the checker was built with, for
	// documentation and audit.
	Params   map[string]any
	Severity Severity
	// FailAction overrides the guardrail default when set
	FailAction FailAction
	// Corrector names a registered corrector used when the action is FIX
	Corrector string
}

// EffectiveAction returns the override if set, else def
func (c Constraint) EffectiveAction(def FailAction) FailAction {
	if c.FailAction != "" {
		return c.FailAction
	}
	return def
}

// PromptTemplate references the template an LLM output was generated from
type PromptTemplate struct {
	Name     string `json:"name" yaml:"name"`
	Template string `json:"template" yaml:"template"`
}

// GuardRailSpec is the input to NewGuardRail
type GuardRailSpec struct {
	Name        string
	Description string
	Version     string
	Constraints []Constraint
	OnFail      FailAction
	Prompt      *PromptTemplate
}

// GuardRail is an immutable, versioned, ordered collection of constraints.
// A new version is a new value; nothing mutates a published guardrail.
type GuardRail struct {
	name        string
	description string
	version     *semver.Version
	constraints []Constraint
	onFail      FailAction
	prompt      *PromptTemplate
}

// NewGuardRail validates spec and builds a GuardRail from it
func NewGuardRail(spec GuardRailSpec) (*GuardRail, error) {
	if spec.Name == "" {
		return nil, &ConfigError{Op: "new guardrail", Reason: "name is required"}
	}
	if len(spec.Constraints) == 0 {
		return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: "at least one constraint is required"}
	}

	version, err := semver.StrictNewVersion(spec.Version)
	if err != nil {
		return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: fmt.Sprintf("invalid version %q", spec.Version), Err: err}
	}

	onFail := spec.OnFail
	if onFail == "" {
		onFail = ActionReject
	}
	if !onFail.IsValid() {
		return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: fmt.Sprintf("invalid default action %q", spec.OnFail)}
	}

	seen := make(map[string]struct{}, len(spec.Constraints))
	constraints := make([]Constraint, 0, len(spec.Constraints))
	for i, c := range spec.Constraints {
		if c.Name == "" {
			return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: fmt.Sprintf("constraint %d has no name", i)}
		}
		if _, dup := seen[c.Name]; dup {
			return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: fmt.Sprintf("duplicate constraint name %q", c.Name)}
		}
		seen[c.Name] = struct{}{}

		if c.Check == nil {
			return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: fmt.Sprintf("constraint %q has no check", c.Name)}
		}
		if c.Severity == "" {
			c.Severity = SeverityError
		}
		if !c.Severity.IsValid() {
			return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: fmt.Sprintf("constraint %q has invalid severity %q", c.Name, c.Severity)}
		}
		if c.FailAction != "" && !c.FailAction.IsValid() {
			return nil, &ConfigError{Op: "new guardrail", Subject: spec.Name, Reason: fmt.Sprintf("constraint %q has invalid fail action %q", c.Name, c.FailAction)}
		}

		c.Params = copyParams(c.Params)
		constraints = append(constraints, c)
	}

	g := &GuardRail{
		name:        spec.Name,
		description: spec.Description,
		version:     version,
		constraints: constraints,
		onFail:      onFail,
	}
	if spec.Prompt != nil {
		prompt := *spec.Prompt
		g.prompt = &prompt
	}
	return g, nil
}

func (g *GuardRail) Name() string        { return g.name }
func (g *GuardRail) Description() string { return g.description }
func (g *GuardRail) Version() string     { return g.version.String() }
func (g *GuardRail) OnFail() FailAction  { return g.onFail }
func (g *GuardRail) Len() int            { return len(g.constraints) }

// SemVer returns the parsed version for ordering guardrail releases
func (g *GuardRail) SemVer() *semver.Version {
	return g.version
}

// Key identifies the guardrail release as name@version
func (g *GuardRail) Key() string {
	return g.name + "@" + g.version.String()
}

// Constraints returns a copy of the constraints in evaluation order
func (g *GuardRail) Constraints() []Constraint {
	out := make([]Constraint, len(g.constraints))
	copy(out, g.constraints)
	return out
}

// Constraint returns the constraint with the given name
func (g *GuardRail) Constraint(name string) (Constraint, bool) {
	for _, c := range g.constraints {
		if c.Name == name {
			return c, true
		}
	}
	return Constraint{}, false
}

// Prompt returns the associated prompt template, or nil
func (g *GuardRail) Prompt() *PromptTemplate {
	if g.prompt == nil {
		return nil
	}
	prompt := *g.prompt
	return &prompt
}

// IsPromptGuardRail reports whether the guardrail validates LLM output
// generated from a known template
func (g *GuardRail) IsPromptGuardRail() bool {
	return g.prompt != nil
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
