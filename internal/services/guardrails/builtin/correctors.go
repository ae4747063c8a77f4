package builtin

import (
	"context"

	"github.com/amerfu/pguard/internal/services/guardrails/patterns"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// CorrectorRedactPII is the registry name of the PII redaction corrector
const CorrectorRedactPII = "redact_pii"

// RedactPII returns a corrector that replaces every detected PII span in
// every string value of the record with its placeholder. The input record
// is left untouched.
func RedactPII(lib *patterns.Library) types.Corrector {
	if lib == nil {
		lib = patterns.Default()
	}
	return types.CorrectorFunc(func(_ context.Context, record types.Record) (types.Record, error) {
		out := record.Clone()
		for k, v := range out {
			out[k] = redactValue(lib, v)
		}
		return out, nil
	})
}

func redactValue(lib *patterns.Library, v any) any {
	switch val := v.(type) {
	case string:
		return lib.Redact(val)
	case map[string]any:
		for k, item := range val {
			val[k] = redactValue(lib, item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = redactValue(lib, item)
		}
		return val
	case []string:
		for i, item := range val {
			val[i] = lib.Redact(item)
		}
		return val
	default:
		return v
	}
}
