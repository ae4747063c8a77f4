package guardrails

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
	"github.com/amerfu/pguard/internal/services/review"
)

const (
	DefaultExcerptLength = 120
	DefaultCheckTimeout  = 5 * time.Second

	tracerName = "github.com/amerfu/pguard/internal/services/guardrails"
)

// Options configures a Validator. Zero values take the defaults.
type Options struct {
	// StopOnFirstError stops evaluation after the first failed ERROR
	// constraint. Results then hold fewer entries than the guardrail has
	// constraints, so the trace is incomplete.
	StopOnFirstError bool

	// ExcerptLength bounds InputExcerpt, in runes
	ExcerptLength int

	// CheckTimeout bounds every ContextChecker call
	CheckTimeout time.Duration

	// Workers bounds ValidateBatch concurrency
	Workers int

	// Correctors used by FIX. Nil means none are registered.
	Correctors *CorrectorRegistry

	// Review receives ESCALATE records. Defaults to an in-memory queue.
	Review review.Queue

	Tracer trace.Tracer
}

// Validator evaluates guardrails against records and owns the trace buffer
// of every evaluation it performs
type Validator struct {
	opts   Options
	logger *zap.Logger
	tracer trace.Tracer

	mu    sync.Mutex
	trace []types.TraceRecord
	// generation changes on every ClearTrace
	generation uint64
}

// NewValidator creates a validator
func NewValidator(logger *zap.Logger, opts Options) *Validator {
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = DefaultExcerptLength
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Correctors == nil {
		opts.Correctors = NewCorrectorRegistry()
	}
	if opts.Review == nil {
		opts.Review = review.NewMemoryQueue()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Validator{
		opts:   opts,
		logger: logger.Named("guardrails"),
		tracer: opts.Tracer,
	}
}

// Correctors returns the registry used for FIX
func (v *Validator) Correctors() *CorrectorRegistry {
	return v.opts.Correctors
}

// ReviewQueue returns the queue ESCALATE records are sent to
func (v *Validator) ReviewQueue() review.Queue {
	return v.opts.Review
}

// Validate runs every constraint of guardrail against record, in order.
//
// A nil guardrail or record is a *ConfigError, returned before any
// constraint runs. Check errors and panics become failed ERROR entries.
// When ctx is cancelled between constraints, the entries gathered so far are
// still appended to the trace, and the partial result is returned, marked
// Cancelled, together with ctx.Err().
func (v *Validator) Validate(ctx context.Context, record types.Record, guardrail *types.GuardRail) (*types.ValidationResult, error) {
	if guardrail == nil {
		return nil, &types.ConfigError{Op: "validate", Reason: "guardrail is nil"}
	}
	if record == nil {
		return nil, &types.ConfigError{Op: "validate", Subject: guardrail.Key(), Reason: "record must be a mapping, got nil"}
	}

	ctx, span := v.tracer.Start(ctx, "guardrails.Validate",
		trace.WithAttributes(
			attribute.String("guardrail.name", guardrail.Name()),
			attribute.String("guardrail.version", guardrail.Version()),
			attribute.Int("guardrail.constraints", guardrail.Len()),
		))
	defer span.End()

	start := time.Now()
	entries, cancelErr := v.evaluate(ctx, record, guardrail)

	resolution := Resolve(guardrail, entries, v.opts.Correctors)
	result := types.NewValidationResult(uuid.New().String(), guardrail, resolution.Entries, resolution.Action, time.Since(start))
	result.Cancelled = cancelErr != nil

	v.appendTrace(result)
	recordValidation(result)

	span.SetAttributes(
		attribute.String("validation.id", result.ID),
		attribute.Bool("validation.valid", result.IsValid),
		attribute.String("validation.action", result.ActionTaken.String()),
		attribute.Int("validation.errors", result.TotalErrors),
		attribute.Int("validation.warnings", result.TotalWarnings),
	)

	for _, name := range resolution.Degraded {
		v.logger.Warn("FIX degraded to REJECT",
			zap.String("guardrail", guardrail.Key()),
			zap.String("constraint", name),
			zap.String("result_id", result.ID))
	}

	if cancelErr != nil {
		span.RecordError(cancelErr)
		span.SetStatus(codes.Error, cancelErr.Error())
		v.logger.Warn("Validation cancelled",
			zap.String("guardrail", guardrail.Key()),
			zap.String("result_id", result.ID),
			zap.Int("evaluated", len(result.Entries)),
			zap.Int("constraints", guardrail.Len()),
			zap.Error(cancelErr))
		return result, cancelErr
	}

	span.SetStatus(codes.Ok, "")
	v.logger.Debug("Guardrail validated",
		zap.String("guardrail", guardrail.Key()),
		zap.String("result_id", result.ID),
		zap.Bool("valid", result.IsValid),
		zap.String("action", result.ActionTaken.String()),
		zap.Int("errors", result.TotalErrors),
		zap.Int("warnings", result.TotalWarnings),
		zap.Float64("validation_time_ms", result.ValidationTimeMs))

	return result, nil
}

func (v *Validator) evaluate(ctx context.Context, record types.Record, guardrail *types.GuardRail) ([]types.ValidationEntry, error) {
	constraints := guardrail.Constraints()
	entries := make([]types.ValidationEntry, 0, len(constraints))

	for _, c := range constraints {
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		entry := v.evaluateConstraint(ctx, record, guardrail, c)
		entries = append(entries, entry)

		if v.opts.StopOnFirstError && entry.IsBlockingFailure() {
			break
		}
	}
	return entries, nil
}

func (v *Validator) evaluateConstraint(ctx context.Context, record types.Record, guardrail *types.GuardRail, c types.Constraint) types.ValidationEntry {
	result, err := v.runCheck(ctx, record, c)
	entry := types.ValidationEntry{
		ConstraintName: c.Name,
		Severity:       c.Severity,
		Timestamp:      time.Now().UTC(),
	}

	if err != nil {
		checkErrorsTotal.WithLabelValues(guardrail.Name(), c.Name).Inc()
		v.logger.Warn("Check function failed",
			zap.String("guardrail", guardrail.Key()),
			zap.String("constraint", c.Name),
			zap.Error(err))

		entry.Passed = false
		entry.Severity = types.SeverityError
		entry.Message = err.Error()
		return entry
	}

	entry.Passed = result.Passed
	entry.Message = result.Message
	entry.InputExcerpt = types.Excerpt(result.Excerpt, v.opts.ExcerptLength)
	return entry
}

// runCheck never panics. Returned errors carry the "check error:" or
// "check panic:" prefix used in entry messages.
func (v *Validator) runCheck(ctx context.Context, record types.Record, c types.Constraint) (result types.CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = types.CheckResult{}
			err = fmt.Errorf("check panic: %v", r)
		}
	}()

	if cc, ok := c.Check.(types.ContextChecker); ok {
		checkCtx, cancel := context.WithTimeout(ctx, v.opts.CheckTimeout)
		defer cancel()

		result, err = cc.CheckContext(checkCtx, record)
		if err != nil && errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			return types.CheckResult{}, fmt.Errorf("check error: timed out after %s: %w", v.opts.CheckTimeout, err)
		}
	} else {
		result, err = c.Check.Check(record)
	}

	if err != nil {
		return types.CheckResult{}, fmt.Errorf("check error: %w", err)
	}
	return result, nil
}

// ValidateBatch validates records concurrently with at most Options.Workers
// in flight. Results are in input order. Every record is checked for shape
// before any is validated. When ctx is cancelled, records that never
// started have a nil result and ctx.Err() is returned.
func (v *Validator) ValidateBatch(ctx context.Context, records []types.Record, guardrail *types.GuardRail) ([]*types.ValidationResult, error) {
	if guardrail == nil {
		return nil, &types.ConfigError{Op: "validate batch", Reason: "guardrail is nil"}
	}
	for i, record := range records {
		if record == nil {
			return nil, &types.ConfigError{
				Op:      "validate batch",
				Subject: guardrail.Key(),
				Reason:  fmt.Sprintf("record %d must be a mapping, got nil", i),
			}
		}
	}

	results := make([]*types.ValidationResult, len(records))
	errs := make([]error, len(records))
	sem := make(chan struct{}, v.opts.Workers)
	var wg sync.WaitGroup

dispatch:
	for i := range records {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = v.Validate(ctx, records[i], guardrail)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}

func (v *Validator) appendTrace(result *types.ValidationResult) {
	records := make([]types.TraceRecord, len(result.Entries))
	for i, entry := range result.Entries {
		records[i] = types.TraceRecord{
			ValidationEntry:  entry,
			ResultID:         result.ID,
			GuardrailName:    result.GuardrailName,
			GuardrailVersion: result.GuardrailVersion,
		}
	}

	v.mu.Lock()
	v.trace = append(v.trace, records...)
	v.mu.Unlock()

	traceBufferSize.Add(float64(len(records)))
}

// Trace returns a snapshot of every entry recorded since the last ClearTrace
func (v *Validator) Trace() []types.TraceRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]types.TraceRecord, len(v.trace))
	copy(out, v.trace)
	return out
}

// TraceLen returns the number of buffered entries
func (v *Validator) TraceLen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.trace)
}

// ClearTrace empties the trace buffer and returns how many entries it held.
// Export first if the entries must be kept.
func (v *Validator) ClearTrace() int {
	v.mu.Lock()
	n := len(v.trace)
	v.trace = nil
	v.generation++
	v.mu.Unlock()

	traceBufferSize.Sub(float64(n))
	return n
}

// ExportTrace writes a snapshot of the trace to sink. The buffer is never
// modified, so a failed export can be retried.
func (v *Validator) ExportTrace(ctx context.Context, sink audit.Sink) (int, error) {
	snapshot := v.Trace()

	ctx, span := v.tracer.Start(ctx, "guardrails.ExportTrace",
		trace.WithAttributes(
			attribute.String("audit.sink", sink.Name()),
			attribute.Int("audit.records", len(snapshot)),
		))
	defer span.End()

	n, err := audit.Export(ctx, sink, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.logger.Error("Trace export failed",
			zap.String("sink", sink.Name()),
			zap.Int("records", len(snapshot)),
			zap.Error(err))
		return 0, err
	}

	v.logger.Info("Trace exported",
		zap.String("sink", sink.Name()),
		zap.Int("records", n))
	return n, nil
}

// Flush exports the buffered entries and removes exactly those from the
// buffer. Entries appended during the export stay buffered for the next
// flush. On error the buffer is left intact.
func (v *Validator) Flush(ctx context.Context, sink audit.Sink) (int, error) {
	v.mu.Lock()
	snapshot := make([]types.TraceRecord, len(v.trace))
	copy(snapshot, v.trace)
	generation := v.generation
	v.mu.Unlock()

	if len(snapshot) == 0 {
		return 0, nil
	}

	n, err := audit.Export(ctx, sink, snapshot)
	if err != nil {
		v.logger.Error("Trace flush failed",
			zap.String("sink", sink.Name()),
			zap.Int("records", len(snapshot)),
			zap.Error(err))
		return 0, err
	}

	v.mu.Lock()
	dropped := 0
	if v.generation == generation && len(v.trace) >= n {
		v.trace = append([]types.TraceRecord(nil), v.trace[n:]...)
		dropped = n
	}
	v.mu.Unlock()

	traceBufferSize.Sub(float64(dropped))
	v.logger.Debug("Trace flushed",
		zap.String("sink", sink.Name()),
		zap.Int("records", n))
	return n, nil
}

// Document renders guardrail as markdown
func (v *Validator) Document(guardrail *types.GuardRail) string {
	return Document(guardrail)
}

// RecordFrom converts a decoded JSON value to a Record. Anything but an
// object is a *ConfigError.
func RecordFrom(value any) (types.Record, error) {
	switch m := value.(type) {
	case types.Record:
		if m == nil {
			break
		}
		return m, nil
	case map[string]any:
		if m == nil {
			break
		}
		return types.Record(m), nil
	}
	return nil, &types.ConfigError{
		Op:     "validate",
		Reason: fmt.Sprintf("record must be a mapping, got %T", value),
	}
}
