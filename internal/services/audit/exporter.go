// Package audit serializes validation trace entries and writes them to
// durable sinks.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// Record is the exported form of one trace entry
type Record struct {
	ResultID         string    `json:"result_id"`
	GuardrailName    string    `json:"guardrail_name"`
	GuardrailVersion string    `json:"guardrail_version"`
	ConstraintName   string    `json:"constraint_name"`
	Severity         string    `json:"severity"`
	Passed           bool      `json:"passed"`
	Message          string    `json:"message"`
	InputExcerpt     string    `json:"input_excerpt,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	EntryHash        string    `json:"entry_hash"`
}

// Sink receives a snapshot of trace records
type Sink interface {
	Write(ctx context.Context, records []Record) error
	Name() string
}

// ExportError is returned when a sink fails. The trace buffer the records
// came from is never cleared on failure.
type ExportError struct {
	Sink    string
	Records int
	Err     error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export of %d trace records to %s failed: %v", e.Records, e.Sink, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// NewRecord converts a trace entry to its exported form and stamps its hash
func NewRecord(tr types.TraceRecord) (Record, error) {
	r := Record{
		ResultID:         tr.ResultID,
		GuardrailName:    tr.GuardrailName,
		GuardrailVersion: tr.GuardrailVersion,
		ConstraintName:   tr.ConstraintName,
		Severity:         tr.Severity.String(),
		Passed:           tr.Passed,
		Message:          tr.Message,
		InputExcerpt:     tr.InputExcerpt,
		Timestamp:        tr.Timestamp.UTC(),
	}

	hash, err := Hash(r)
	if err != nil {
		return Record{}, err
	}
	r.EntryHash = hash
	return r, nil
}

// Hash returns the hex SHA-256 of the record's RFC 8785 canonical form,
// computed with the entry_hash field empty.
func Hash(r Record) (string, error) {
	r.EntryHash = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize trace record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the record's entry_hash matches its content
func Verify(r Record) bool {
	hash, err := Hash(r)
	return err == nil && hash == r.EntryHash
}

// Export converts a snapshot of trace entries and writes it to sink. Any
// failure is returned as *ExportError.
func Export(ctx context.Context, sink Sink, trace []types.TraceRecord) (int, error) {
	records := make([]Record, 0, len(trace))
	for _, tr := range trace {
		r, err := NewRecord(tr)
		if err != nil {
			return 0, &ExportError{Sink: sink.Name(), Records: len(trace), Err: err}
		}
		records = append(records, r)
	}

	if err := ctx.Err(); err != nil {
		return 0, &ExportError{Sink: sink.Name(), Records: len(records), Err: err}
	}
	if err := sink.Write(ctx, records); err != nil {
		return 0, &ExportError{Sink: sink.Name(), Records: len(records), Err: err}
	}
	return len(records), nil
}
