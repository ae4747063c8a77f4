package guardrails

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/amerfu/pguard/internal/config"
)

// PolicyFile is the layout of a standalone guardrail policy file:
//
//	guardrails:
//	  - name: support-reply
//	    version: 1.0.0
//	    on_fail: REJECT
//	    constraints:
//	      - check: no_pii
//	        fail_action: FIX
type PolicyFile struct {
	Guardrails []config.GuardrailDefinition `yaml:"guardrails"`
}

// ParsePolicy decodes policy YAML. Unknown keys are rejected so a misspelled
// field never silently disables a constraint.
func ParsePolicy(data []byte) ([]config.GuardrailDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var policy PolicyFile
	if err := dec.Decode(&policy); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	if err := (config.GuardrailsConfig{Definitions: policy.Guardrails}).Validate(); err != nil {
		return nil, err
	}
	return policy.Guardrails, nil
}

// LoadPolicyFile reads guardrail definitions from a YAML file, or from every
// .yaml and .yml file in a directory in lexical order
func LoadPolicyFile(path string) ([]config.GuardrailDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	if !info.IsDir() {
		return loadOne(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory %s: %w", path, err)
	}

	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)

	var defs []config.GuardrailDefinition
	for _, file := range files {
		loaded, err := loadOne(file)
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

func loadOne(path string) ([]config.GuardrailDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	defs, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return defs, nil
}
