package guardrails

import (
	"fmt"
	"strings"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// Re-export types for convenience
type (
	Record           = types.Record
	Severity         = types.Severity
	FailAction       = types.FailAction
	Constraint       = types.Constraint
	GuardRail        = types.GuardRail
	GuardRailSpec    = types.GuardRailSpec
	PromptTemplate   = types.PromptTemplate
	ValidationEntry  = types.ValidationEntry
	ValidationResult = types.ValidationResult
	TraceRecord      = types.TraceRecord
	ConfigError      = types.ConfigError
)

// Re-export constants
const (
	SeverityError   = types.SeverityError
	SeverityWarning = types.SeverityWarning
	SeverityInfo    = types.SeverityInfo

	ActionReject   = types.ActionReject
	ActionFix      = types.ActionFix
	ActionEscalate = types.ActionEscalate
	ActionLog      = types.ActionLog
	ActionRetry    = types.ActionRetry
)

// NewGuardRail validates spec and builds an immutable GuardRail
func NewGuardRail(spec GuardRailSpec) (*GuardRail, error) {
	return types.NewGuardRail(spec)
}

// RejectedError is returned by Enforce when the output must not reach its
// consumer
type RejectedError struct {
	GuardrailName    string
	GuardrailVersion string
	Result           *ValidationResult
	Reason           string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("output rejected by guardrail '%s@%s': %s", e.GuardrailName, e.GuardrailVersion, e.Reason)
}

func newRejectedError(result *ValidationResult, reason string) *RejectedError {
	if reason == "" {
		var failed []string
		for _, entry := range result.Failed() {
			failed = append(failed, entry.ConstraintName)
		}
		reason = "failed constraints: " + strings.Join(failed, ", ")
	}
	return &RejectedError{
		GuardrailName:    result.GuardrailName,
		GuardrailVersion: result.GuardrailVersion,
		Result:           result,
		Reason:           reason,
	}
}
