package types

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Severity defines how much a failed constraint matters
type Severity string

const (
	SeverityError   Severity = "ERROR"   // Must pass
	SeverityWarning Severity = "WARNING" // Should pass
	SeverityInfo    Severity = "INFO"    // Audit only
)

func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// ParseSeverity converts a case-insensitive string to a Severity.
// An empty string maps to ERROR.
func ParseSeverity(s string) (Severity, error) {
	if strings.TrimSpace(s) == "" {
		return SeverityError, nil
	}
	severity := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !severity.IsValid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return severity, nil
}

// FailAction defines the remediation policy applied when a constraint fails
type FailAction string

const (
	ActionReject   FailAction = "REJECT"   // Block and raise to the caller
	ActionFix      FailAction = "FIX"      // Run a registered corrector and re-validate once
	ActionEscalate FailAction = "ESCALATE" // Queue for human review
	ActionLog      FailAction = "LOG"      // Record and let the output through
	ActionRetry    FailAction = "RETRY"    // Ask the caller to regenerate
)

func (a FailAction) String() string {
	return string(a)
}

// Rank orders actions by restrictiveness: REJECT > ESCALATE > RETRY > FIX > LOG.
// Unknown actions rank 0.
func (a FailAction) Rank() int {
	switch a {
	case ActionReject:
		return 5
	case ActionEscalate:
		return 4
	case ActionRetry:
		return 3
	case ActionFix:
		return 2
	case ActionLog:
		return 1
	default:
		return 0
	}
}

// IsValid checks if the action is one of the known actions
func (a FailAction) IsValid() bool {
	return a.Rank() > 0
}

// ParseFailAction converts a case-insensitive string to a FailAction.
// An empty string returns an empty action, meaning "not set".
func ParseFailAction(s string) (FailAction, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	action := FailAction(strings.ToUpper(s))
	if !action.IsValid() {
		return "", fmt.Errorf("unknown fail action %q", s)
	}
	return action, nil
}

// MostRestrictive returns whichever of a and b ranks higher
func MostRestrictive(a, b FailAction) FailAction {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CheckResult is the outcome of a single check function
type CheckResult struct {
	Passed  bool
	Message string
	// Excerpt is the value the check looked at, before truncation
	Excerpt string
}

// Pass creates a passing check result
func Pass(message, excerpt string) CheckResult {
	return CheckResult{Passed: true, Message: message, Excerpt: excerpt}
}

// Fail creates a failing check result
func Fail(message, excerpt string) CheckResult {
	return CheckResult{Passed: false, Message: message, Excerpt: excerpt}
}

// Checker is implemented by every check function. Implementations must be
// deterministic and must not have side effects.
type Checker interface {
	Check(record Record) (CheckResult, error)
}

// CheckerFunc adapts a plain function to the Checker interface
type CheckerFunc func(record Record) (CheckResult, error)

// Check implements Checker
func (f CheckerFunc) Check(record Record) (CheckResult, error) {
	return f(record)
}

// ContextChecker is implemented by checks that perform bounded I/O. The
// validator calls CheckContext with a per-call deadline instead of Check.
type ContextChecker interface {
	Checker
	CheckContext(ctx context.Context, record Record) (CheckResult, error)
}

// ValidationEntry is the immutable record of one constraint evaluation
type ValidationEntry struct {
	ConstraintName string    `json:"constraint_name"`
	Passed         bool      `json:"passed"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	InputExcerpt   string    `json:"input_excerpt,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsBlockingFailure reports whether the entry is a failed ERROR check
func (e ValidationEntry) IsBlockingFailure() bool {
	return !e.Passed && e.Severity == SeverityError
}

// ValidationResult is the aggregate outcome of one guardrail evaluation
type ValidationResult struct {
	ID               string            `json:"id"`
	GuardrailName    string            `json:"guardrail_name"`
	GuardrailVersion string            `json:"guardrail_version"`
	IsValid          bool              `json:"is_valid"`
	TotalErrors      int               `json:"total_errors"`
	TotalWarnings    int               `json:"total_warnings"`
	ActionTaken      FailAction        `json:"action_taken"`
	ValidationTimeMs float64           `json:"validation_time_ms"`
	Cancelled        bool              `json:"cancelled,omitempty"`
	Entries          []ValidationEntry `json:"entries"`
}

// NewValidationResult derives every aggregate field from entries
func NewValidationResult(id string, guardrail *GuardRail, entries []ValidationEntry, action FailAction, elapsed time.Duration) *ValidationResult {
	result := &ValidationResult{
		ID:               id,
		IsValid:          true,
		ActionTaken:      action,
		ValidationTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		Entries:          make([]ValidationEntry, len(entries)),
	}
	copy(result.Entries, entries)

	if guardrail != nil {
		result.GuardrailName = guardrail.Name()
		result.GuardrailVersion = guardrail.Version()
	}

	for _, entry := range entries {
		if entry.Passed {
			continue
		}
		switch entry.Severity {
		case SeverityError:
			result.TotalErrors++
			result.IsValid = false
		case SeverityWarning:
			result.TotalWarnings++
		}
	}

	return result
}

// Failed returns the failed entries in evaluation order
func (r *ValidationResult) Failed() []ValidationEntry {
	var failed []ValidationEntry
	for _, entry := range r.Entries {
		if !entry.Passed {
			failed = append(failed, entry)
		}
	}
	return failed
}

// TraceRecord is a ValidationEntry tagged with its provenance
type TraceRecord struct {
	ValidationEntry
	ResultID         string `json:"result_id"`
	GuardrailName    string `json:"guardrail_name"`
	GuardrailVersion string `json:"guardrail_version"`
}

// Excerpt bounds s to at most max runes, marking truncation with "..."
func Excerpt(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// Corrector deterministically rewrites a record so a failed check can pass.
// It must not modify its input.
type Corrector interface {
	Correct(ctx context.Context, record Record) (Record, error)
}

// CorrectorFunc adapts a plain function to the Corrector interface
type CorrectorFunc func(ctx context.Context, record Record) (Record, error)

// Correct implements Corrector
func (f CorrectorFunc) Correct(ctx context.Context, record Record) (Record, error) {
	return f(ctx, record)
}
