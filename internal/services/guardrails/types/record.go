package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Record is the output of the system being validated: field name to value.
// Values are strings, numbers, bools or nested maps. Whole-text checks use
// the "output" field.
type Record map[string]any

// OutputField is the field read by checks that are not given a field name
const OutputField = "output"

// Field looks up a value by name. Dotted names walk nested maps.
func (r Record) Field(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	if v, ok := r[name]; ok {
		return v, true
	}

	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil, false
	}

	var current any = map[string]any(r)
	for _, part := range parts {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Text returns every string value in the record, nested ones included, in
// sorted key order and separated by newlines.
func (r Record) Text() string {
	var parts []string
	collectStrings(map[string]any(r), &parts)
	return strings.Join(parts, "\n")
}

// Canonical returns the JSON serialization of the record with sorted keys
func (r Record) Canonical() string {
	data, err := json.Marshal(map[string]any(r))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(r))
	}
	return string(data)
}

// Clone returns a deep copy of the record's nested maps and slices
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(cloneValue(map[string]any(r)).(map[string]any))
}

func collectStrings(v any, parts *[]string) {
	switch val := v.(type) {
	case string:
		*parts = append(*parts, val)
	case []any:
		for _, item := range val {
			collectStrings(item, parts)
		}
	case []string:
		*parts = append(*parts, val...)
	default:
		m, ok := asMap(v)
		if !ok {
			return
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(m[k], parts)
		}
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Record:
		return cloneValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return map[string]any(m), true
	default:
		return nil, false
	}
}
