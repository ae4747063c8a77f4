package builtin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/amerfu/pguard/internal/services/guardrails/patterns"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// lengthChecker fails when a string field is outside [min, max] runes
type lengthChecker struct {
	field string
	min   int
	max   int
}

func newLengthChecker(min, max int, field string) (*lengthChecker, error) {
	if min < 0 {
		return nil, fmt.Errorf("min_len must be >= 0, got %d", min)
	}
	if max < min {
		return nil, fmt.Errorf("max_len %d is less than min_len %d", max, min)
	}
	return &lengthChecker{field: fieldOrOutput(field), min: min, max: max}, nil
}

func (c *lengthChecker) Check(record types.Record) (types.CheckResult, error) {
	value, ok := record.Field(c.field)
	if !ok {
		return types.Fail(fmt.Sprintf("field %q is missing", c.field), ""), nil
	}
	s, ok := value.(string)
	if !ok {
		return types.Fail(fmt.Sprintf("TypeError: field %q is %s, not a string", c.field, typeName(value)), fmt.Sprint(value)), nil
	}

	n := utf8.RuneCountInString(s)
	if n < c.min {
		return types.Fail(fmt.Sprintf("length %d is below the minimum %d (required [%d, %d])", n, c.min, c.min, c.max), s), nil
	}
	if n > c.max {
		return types.Fail(fmt.Sprintf("length %d exceeds the maximum %d (required [%d, %d])", n, c.max, c.min, c.max), s), nil
	}
	return types.Pass(fmt.Sprintf("length %d within [%d, %d]", n, c.min, c.max), s), nil
}

// regexChecker fails when the field, or the whole record, does not match
type regexChecker struct {
	pattern *regexp.Regexp
	field   string
}

func newRegexChecker(pattern, field string) (*regexChecker, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &regexChecker{pattern: compiled, field: field}, nil
}

func (c *regexChecker) Check(record types.Record) (types.CheckResult, error) {
	target := "record"
	var text string
	if c.field == "" {
		text = record.Canonical()
	} else {
		target = fmt.Sprintf("field %q", c.field)
		value, ok := record.Field(c.field)
		if !ok {
			return types.Fail(fmt.Sprintf("%s is missing", target), ""), nil
		}
		s, ok := value.(string)
		if !ok {
			return types.Fail(fmt.Sprintf("TypeError: %s is %s, not a string", target, typeName(value)), fmt.Sprint(value)), nil
		}
		text = s
	}

	if !c.pattern.MatchString(text) {
		return types.Fail(fmt.Sprintf("%s does not match pattern %q", target, c.pattern.String()), text), nil
	}
	return types.Pass(fmt.Sprintf("%s matches pattern %q", target, c.pattern.String()), text), nil
}

// noPIIChecker fails when any detector in the library matches the record text
type noPIIChecker struct {
	library *patterns.Library
}

func (c *noPIIChecker) Check(record types.Record) (types.CheckResult, error) {
	text := record.Text()
	found := c.library.Types(text)
	// The excerpt is redacted so the audit trail never carries the PII itself
	excerpt := c.library.Redact(text)
	if len(found) > 0 {
		return types.Fail("PII detected: "+strings.Join(found, ", "), excerpt), nil
	}
	return types.Pass("no PII detected", excerpt), nil
}

// confidenceChecker fails when a numeric field is outside [min, max]
type confidenceChecker struct {
	field string
	min   float64
	max   float64
}

func newConfidenceChecker(min, max float64, field string) (*confidenceChecker, error) {
	if math.IsNaN(min) || math.IsNaN(max) {
		return nil, errors.New("confidence bounds must be numbers")
	}
	if max < min {
		return nil, fmt.Errorf("max_conf %g is less than min_conf %g", max, min)
	}
	if field == "" {
		field = "confidence"
	}
	return &confidenceChecker{field: field, min: min, max: max}, nil
}

func (c *confidenceChecker) Check(record types.Record) (types.CheckResult, error) {
	value, ok := record.Field(c.field)
	if !ok {
		return types.Fail(fmt.Sprintf("field %q is missing", c.field), ""), nil
	}
	n, ok := toFloat(value)
	if !ok || math.IsNaN(n) {
		return types.Fail(fmt.Sprintf("TypeError: field %q is %s, not a number", c.field, typeName(value)), fmt.Sprint(value)), nil
	}

	excerpt := fmt.Sprint(value)
	if n < c.min || n > c.max {
		return types.Fail(fmt.Sprintf("%s %g is outside [%g, %g]", c.field, n, c.min, c.max), excerpt), nil
	}
	return types.Pass(fmt.Sprintf("%s %g within [%g, %g]", c.field, n, c.min, c.max), excerpt), nil
}

// requiredFieldsChecker reports every missing field, not just the first
type requiredFieldsChecker struct {
	names []string
}

func newRequiredFieldsChecker(names []string) (*requiredFieldsChecker, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one required field is needed")
	}
	for _, name := range names {
		if name == "" {
			return nil, errors.New("required field names must not be empty")
		}
	}
	out := make([]string, len(names))
	copy(out, names)
	return &requiredFieldsChecker{names: out}, nil
}

func (c *requiredFieldsChecker) Check(record types.Record) (types.CheckResult, error) {
	var missing []string
	for _, name := range c.names {
		if value, ok := record.Field(name); !ok || value == nil {
			missing = append(missing, name)
		}
	}

	present := strings.Join(c.names, ", ")
	if len(missing) > 0 {
		return types.Fail("missing required fields: "+strings.Join(missing, ", "), present), nil
	}
	return types.Pass("all required fields present", present), nil
}

// jsonChecker fails when a string field cannot be parsed as JSON
type jsonChecker struct {
	field string
}

func (c *jsonChecker) Check(record types.Record) (types.CheckResult, error) {
	value, ok := record.Field(c.field)
	if !ok {
		return types.Fail(fmt.Sprintf("field %q is missing", c.field), ""), nil
	}
	s, ok := value.(string)
	if !ok {
		return types.Fail(fmt.Sprintf("TypeError: field %q is %s, not a string", c.field, typeName(value)), fmt.Sprint(value)), nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return types.Fail(fmt.Sprintf("invalid JSON at offset %d: %v", syntaxErr.Offset, syntaxErr), s), nil
		}
		return types.Fail(fmt.Sprintf("invalid JSON: %v", err), s), nil
	}
	return types.Pass("valid JSON", s), nil
}

// valueInListChecker fails when the field's value is not one of allowed
type valueInListChecker struct {
	field   string
	allowed []any
}

func newValueInListChecker(allowed []any, field string) (*valueInListChecker, error) {
	if len(allowed) == 0 {
		return nil, errors.New("allowed values must not be empty")
	}
	if field == "" {
		return nil, errors.New("field is required")
	}
	out := make([]any, len(allowed))
	copy(out, allowed)
	return &valueInListChecker{field: field, allowed: out}, nil
}

func (c *valueInListChecker) Check(record types.Record) (types.CheckResult, error) {
	value, ok := record.Field(c.field)
	if !ok {
		return types.Fail(fmt.Sprintf("field %q is missing", c.field), ""), nil
	}

	excerpt := fmt.Sprint(value)
	for _, allowed := range c.allowed {
		if equalValues(value, allowed) {
			return types.Pass(fmt.Sprintf("%s %q is allowed", c.field, excerpt), excerpt), nil
		}
	}
	return types.Fail(fmt.Sprintf("%s %q is not one of %v", c.field, excerpt, c.allowed), excerpt), nil
}

// jsonSchemaChecker validates a field (or the record) against a JSON Schema
type jsonSchemaChecker struct {
	schema *jsonschema.Schema
	field  string
}

func newJSONSchemaChecker(schema, field string) (*jsonSchemaChecker, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://pguard.local/schemas/constraint.schema.json"
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return &jsonSchemaChecker{schema: compiled, field: field}, nil
}

func (c *jsonSchemaChecker) Check(record types.Record) (types.CheckResult, error) {
	var doc any
	var excerpt string
	if c.field == "" {
		excerpt = record.Canonical()
		v, err := normalizeJSON([]byte(excerpt))
		if err != nil {
			return types.Fail(fmt.Sprintf("record is not JSON-encodable: %v", err), ""), nil
		}
		doc = v
	} else {
		value, ok := record.Field(c.field)
		if !ok {
			return types.Fail(fmt.Sprintf("field %q is missing", c.field), ""), nil
		}
		// String fields hold serialized documents; anything else is the document
		raw, isString := value.(string)
		if !isString {
			data, err := json.Marshal(value)
			if err != nil {
				return types.Fail(fmt.Sprintf("field %q is not JSON-encodable: %v", c.field, err), ""), nil
			}
			raw = string(data)
		}
		excerpt = raw
		v, err := normalizeJSON([]byte(raw))
		if err != nil {
			return types.Fail(fmt.Sprintf("field %q is not valid JSON: %v", c.field, err), raw), nil
		}
		doc = v
	}

	if err := c.schema.Validate(doc); err != nil {
		return types.Fail(fmt.Sprintf("schema validation failed: %v", err), excerpt), nil
	}
	return types.Pass("document matches schema", excerpt), nil
}

// expressionChecker evaluates a boolean CEL expression over `record`
type expressionChecker struct {
	expr    string
	program cel.Program
}

func newExpressionChecker(expr string) (*expressionChecker, error) {
	env, err := cel.NewEnv(cel.Variable("record", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q must return bool, returns %s", expr, out)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expr, err)
	}
	return &expressionChecker{expr: expr, program: program}, nil
}

func (c *expressionChecker) Check(record types.Record) (types.CheckResult, error) {
	out, _, err := c.program.Eval(map[string]any{
		"record": map[string]any(record.Clone()),
	})
	if err != nil {
		return types.Fail(fmt.Sprintf("expression %q could not be evaluated: %v", c.expr, err), c.expr), nil
	}
	passed, ok := out.Value().(bool)
	if !ok {
		return types.Fail(fmt.Sprintf("expression %q returned %T, not bool", c.expr, out.Value()), c.expr), nil
	}
	if !passed {
		return types.Fail(fmt.Sprintf("expression %q is false", c.expr), c.expr), nil
	}
	return types.Pass(fmt.Sprintf("expression %q is true", c.expr), c.expr), nil
}

func fieldOrOutput(field string) string {
	if field == "" {
		return types.OutputField
	}
	return field
}

func normalizeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case map[string]any, types.Record:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return reflect.TypeOf(v).String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	an, aNum := toFloat(a)
	bn, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && an == bn
	}
	return reflect.DeepEqual(a, b)
}
