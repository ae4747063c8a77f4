package builtin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/amerfu/pguard/internal/services/guardrails/patterns"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// Check names understood by the default catalog
const (
	CheckLength          = "length"
	CheckRegex           = "regex"
	CheckNoPII           = "no_pii"
	CheckConfidenceRange = "confidence_range"
	CheckRequiredFields  = "required_fields"
	CheckJSONParseable   = "json_parseable"
	CheckValueInList     = "value_in_list"
	CheckJSONSchema      = "json_schema"
	CheckExpression      = "expression"
)

// Constructor builds a checker from declared parameters. Parameter errors
// are returned here, at construction time.
type Constructor func(params map[string]any) (types.Checker, error)

// Catalog is the lookup table from check name to constructor
type Catalog struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewCatalog returns an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{constructors: make(map[string]Constructor)}
}

// DefaultCatalog returns a catalog with every built-in check registered.
// PII checks use lib, or the default pattern library when lib is nil.
func DefaultCatalog(lib *patterns.Library) *Catalog {
	if lib == nil {
		lib = patterns.Default()
	}

	c := NewCatalog()
	c.constructors[CheckLength] = func(params map[string]any) (types.Checker, error) {
		minLen, err := intParam(params, "min_len", 0)
		if err != nil {
			return nil, err
		}
		maxLen, err := intParam(params, "max_len", -1)
		if err != nil {
			return nil, err
		}
		if maxLen < 0 {
			return nil, fmt.Errorf("parameter %q is required", "max_len")
		}
		return newLengthChecker(minLen, maxLen, stringParam(params, "field"))
	}
	c.constructors[CheckRegex] = func(params map[string]any) (types.Checker, error) {
		pattern := stringParam(params, "pattern")
		if pattern == "" {
			return nil, fmt.Errorf("parameter %q is required", "pattern")
		}
		return newRegexChecker(pattern, stringParam(params, "field"))
	}
	c.constructors[CheckNoPII] = func(params map[string]any) (types.Checker, error) {
		return &noPIIChecker{library: lib}, nil
	}
	c.constructors[CheckConfidenceRange] = func(params map[string]any) (types.Checker, error) {
		minConf, err := floatParam(params, "min_conf", 0)
		if err != nil {
			return nil, err
		}
		maxConf, err := floatParam(params, "max_conf", 1)
		if err != nil {
			return nil, err
		}
		return newConfidenceChecker(minConf, maxConf, stringParam(params, "field"))
	}
	c.constructors[CheckRequiredFields] = func(params map[string]any) (types.Checker, error) {
		names, err := stringsParam(params, "fields")
		if err != nil {
			return nil, err
		}
		return newRequiredFieldsChecker(names)
	}
	c.constructors[CheckJSONParseable] = func(params map[string]any) (types.Checker, error) {
		return &jsonChecker{field: fieldOrOutput(stringParam(params, "field"))}, nil
	}
	c.constructors[CheckValueInList] = func(params map[string]any) (types.Checker, error) {
		allowed, err := listParam(params, "allowed")
		if err != nil {
			return nil, err
		}
		return newValueInListChecker(allowed, stringParam(params, "field"))
	}
	c.constructors[CheckJSONSchema] = func(params map[string]any) (types.Checker, error) {
		schema := stringParam(params, "schema")
		if schema == "" {
			return nil, fmt.Errorf("parameter %q is required", "schema")
		}
		return newJSONSchemaChecker(schema, stringParam(params, "field"))
	}
	c.constructors[CheckExpression] = func(params map[string]any) (types.Checker, error) {
		expr := stringParam(params, "expr")
		if expr == "" {
			return nil, fmt.Errorf("parameter %q is required", "expr")
		}
		return newExpressionChecker(expr)
	}
	return c
}

// Register adds a constructor under name
func (c *Catalog) Register(name string, constructor Constructor) error {
	if name == "" || constructor == nil {
		return fmt.Errorf("check name and constructor are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.constructors[name]; exists {
		return fmt.Errorf("check %s already registered", name)
	}
	c.constructors[name] = constructor
	return nil
}

// Build constructs the named check from params
func (c *Catalog) Build(name string, params map[string]any) (types.Checker, error) {
	c.mu.RLock()
	constructor, ok := c.constructors[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown check %q", name)
	}
	checker, err := constructor(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return checker, nil
}

// Names returns the registered check names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.constructors))
	for name := range c.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stringParam(params map[string]any, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("parameter %q must be an integer, got %v", key, v)
	}
	return int(f), nil
}

func floatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be a number, got %v", key, v)
	}
	return f, nil
}

func stringsParam(params map[string]any, key string) ([]string, error) {
	switch v := params[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("parameter %q is required", key)
	default:
		return nil, fmt.Errorf("parameter %q must be a list of strings", key)
	}
}

func listParam(params map[string]any, key string) ([]any, error) {
	switch v := params[key].(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("parameter %q is required", key)
	default:
		return nil, fmt.Errorf("parameter %q must be a list", key)
	}
}
