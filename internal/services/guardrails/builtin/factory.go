// Package builtin provides reusable constraints for common checks and the
// catalog that builds them by name from declared parameters.
package builtin

import (
	"fmt"

	"github.com/amerfu/pguard/internal/services/guardrails/patterns"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// Option customizes a constraint produced by the factory functions
type Option func(*types.Constraint)

// WithName overrides the default constraint name
func WithName(name string) Option {
	return func(c *types.Constraint) { c.Name = name }
}

// WithSeverity sets the constraint severity (default ERROR)
func WithSeverity(severity types.Severity) Option {
	return func(c *types.Constraint) { c.Severity = severity }
}

// WithFailAction overrides the guardrail default action for this constraint
func WithFailAction(action types.FailAction) Option {
	return func(c *types.Constraint) { c.FailAction = action }
}

// WithCorrector names the registered corrector used when the action is FIX
func WithCorrector(name string) Option {
	return func(c *types.Constraint) { c.Corrector = name }
}

// WithDescription sets a human-readable description for documentation
func WithDescription(description string) Option {
	return func(c *types.Constraint) { c.Description = description }
}

func newConstraint(name string, check types.Checker, params map[string]any, opts []Option) types.Constraint {
	c := types.Constraint{
		Name:     name,
		Check:    check,
		Params:   params,
		Severity: types.SeverityError,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LengthCheck fails if the string field is shorter than minLen or longer
// than maxLen runes. The field defaults to "output".
func LengthCheck(minLen, maxLen int, field string, opts ...Option) (types.Constraint, error) {
	check, err := newLengthChecker(minLen, maxLen, field)
	if err != nil {
		return types.Constraint{}, fmt.Errorf("length_check: %w", err)
	}
	params := map[string]any{"min_len": minLen, "max_len": maxLen, "field": check.field}
	return newConstraint("length_check", check, params, opts), nil
}

// RegexMatch fails if the field does not match pattern. With no field, the
// record's JSON serialization is matched. An invalid pattern is an error here,
// never at validation time.
func RegexMatch(pattern, field string, opts ...Option) (types.Constraint, error) {
	check, err := newRegexChecker(pattern, field)
	if err != nil {
		return types.Constraint{}, fmt.Errorf("regex_match: %w", err)
	}
	params := map[string]any{"pattern": pattern}
	if field != "" {
		params["field"] = field
	}
	return newConstraint("regex_match", check, params, opts), nil
}

// NoPII fails if any detector in lib matches the record's text. The message
// lists every detected type. A nil lib uses the default catalog.
func NoPII(lib *patterns.Library, opts ...Option) types.Constraint {
	if lib == nil {
		lib = patterns.Default()
	}
	params := map[string]any{"detectors": lib.Names()}
	c := newConstraint("no_pii", &noPIIChecker{library: lib}, params, []Option{WithCorrector(CorrectorRedactPII)})
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ConfidenceRange fails if the numeric "confidence" field falls outside
// [minConf, maxConf], or is absent or not a number.
func ConfidenceRange(minConf, maxConf float64, opts ...Option) (types.Constraint, error) {
	check, err := newConfidenceChecker(minConf, maxConf, "")
	if err != nil {
		return types.Constraint{}, fmt.Errorf("confidence_range: %w", err)
	}
	params := map[string]any{"min_conf": minConf, "max_conf": maxConf, "field": check.field}
	return newConstraint("confidence_range", check, params, opts), nil
}

// RequiredFields fails listing every missing field
func RequiredFields(names []string, opts ...Option) (types.Constraint, error) {
	check, err := newRequiredFieldsChecker(names)
	if err != nil {
		return types.Constraint{}, fmt.Errorf("required_fields: %w", err)
	}
	params := map[string]any{"fields": check.names}
	return newConstraint("required_fields", check, params, opts), nil
}

// JSONParseable fails if the string field cannot be parsed as JSON. The
// message carries the parser's offset. The field defaults to "output".
func JSONParseable(field string, opts ...Option) types.Constraint {
	check := &jsonChecker{field: fieldOrOutput(field)}
	params := map[string]any{"field": check.field}
	return newConstraint("json_parseable", check, params, opts)
}

// ValueInList fails if the field's value is not a member of allowed
func ValueInList(allowed []any, field string, opts ...Option) (types.Constraint, error) {
	check, err := newValueInListChecker(allowed, field)
	if err != nil {
		return types.Constraint{}, fmt.Errorf("value_in_list: %w", err)
	}
	params := map[string]any{"allowed": check.allowed, "field": field}
	return newConstraint("value_in_list", check, params, opts), nil
}

// JSONSchema fails if the field (or the record, with no field) does not
// validate against the given JSON Schema document.
func JSONSchema(schema, field string, opts ...Option) (types.Constraint, error) {
	check, err := newJSONSchemaChecker(schema, field)
	if err != nil {
		return types.Constraint{}, fmt.Errorf("json_schema: %w", err)
	}
	params := map[string]any{"schema": schema}
	if field != "" {
		params["field"] = field
	}
	return newConstraint("json_schema", check, params, opts), nil
}

// Expression fails unless the CEL expression evaluates to true. The record
// is bound to the variable `record`, e.g. `record.confidence > 0.5`.
func Expression(expr string, opts ...Option) (types.Constraint, error) {
	check, err := newExpressionChecker(expr)
	if err != nil {
		return types.Constraint{}, fmt.Errorf("expression: %w", err)
	}
	params := map[string]any{"expr": expr}
	return newConstraint("expression", check, params, opts), nil
}
