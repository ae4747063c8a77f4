package config

import "fmt"

// GuardrailsConfig declares the guardrails the service loads at startup:
// inline definitions plus any number of standalone YAML policy files
type GuardrailsConfig struct {
	PolicyFiles []string              `mapstructure:"policy_files"`
	Definitions []GuardrailDefinition `mapstructure:"definitions"`
}

// GuardrailDefinition is the declared form of a guardrail
type GuardrailDefinition struct {
	Name        string                 `mapstructure:"name" yaml:"name"`
	Description string                 `mapstructure:"description" yaml:"description"`
	Version     string                 `mapstructure:"version" yaml:"version"`
	OnFail      string                 `mapstructure:"on_fail" yaml:"on_fail"`
	Prompt      *PromptDefinition      `mapstructure:"prompt" yaml:"prompt"`
	Constraints []ConstraintDefinition `mapstructure:"constraints" yaml:"constraints"`
}

// PromptDefinition attaches a prompt template to a guardrail
type PromptDefinition struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Template string `mapstructure:"template" yaml:"template"`
}

// ConstraintDefinition names a catalog check and its parameters
type ConstraintDefinition struct {
	Name        string                 `mapstructure:"name" yaml:"name"`
	Check       string                 `mapstructure:"check" yaml:"check"`
	Description string                 `mapstructure:"description" yaml:"description"`
	Severity    string                 `mapstructure:"severity" yaml:"severity"`
	FailAction  string                 `mapstructure:"fail_action" yaml:"fail_action"`
	Corrector   string                 `mapstructure:"corrector" yaml:"corrector"`
	Params      map[string]interface{} `mapstructure:"params" yaml:"params"`
}

// Validate catches structural mistakes. Check names, parameters, severities
// and actions are validated when the guardrails are built.
func (g GuardrailsConfig) Validate() error {
	seen := make(map[string]bool)
	for i, def := range g.Definitions {
		if def.Name == "" {
			return fmt.Errorf("guardrails.definitions[%d]: name is required", i)
		}
		key := def.Name + "@" + def.Version
		if seen[key] {
			return fmt.Errorf("guardrails.definitions[%d]: duplicate guardrail %s", i, key)
		}
		seen[key] = true

		for j, c := range def.Constraints {
			if c.Check == "" {
				return fmt.Errorf("guardrails.definitions[%d].constraints[%d]: check is required", i, j)
			}
		}
	}
	return nil
}
