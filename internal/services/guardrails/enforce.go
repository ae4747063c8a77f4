package guardrails

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
	"github.com/amerfu/pguard/internal/services/review"
)

// Decision is the enacted outcome of Enforce
type Decision struct {
	Action types.FailAction `json:"action"`

	// Output is the record that may be delivered. It is nil for REJECT and
	// RETRY, the corrected record for FIX, and the input otherwise.
	Output types.Record `json:"output,omitempty"`

	// Result is the final validation result
	Result *types.ValidationResult `json:"result"`

	// Initial is the result before correction, set only for FIX
	Initial *types.ValidationResult `json:"initial,omitempty"`

	Corrected bool     `json:"corrected,omitempty"`
	Applied   []string `json:"applied_correctors,omitempty"`
	Escalated bool     `json:"escalated,omitempty"`
	ReviewID  string   `json:"review_id,omitempty"`
	Retry     bool     `json:"retry,omitempty"`
}

// Enforce validates record and enacts the resolved action:
//
//   - REJECT returns a *RejectedError and no output
//   - FIX applies the registered correctors in constraint order and
//     validates once more; the corrected record is then enacted on that
//     result, and rejected if it is invalid or would need another FIX
//   - ESCALATE queues the record for review and lets it through, flagged
//   - LOG lets the record through unchanged
//   - RETRY asks the caller to regenerate and returns no output
func (v *Validator) Enforce(ctx context.Context, record types.Record, guardrail *types.GuardRail) (*Decision, error) {
	result, err := v.Validate(ctx, record, guardrail)
	if err != nil {
		return nil, err
	}

	decision, err := v.enact(ctx, record, guardrail, result)
	if decision != nil {
		enforcementsTotal.WithLabelValues(guardrail.Name(), decision.Action.String()).Inc()
	}
	return decision, err
}

func (v *Validator) enact(ctx context.Context, record types.Record, guardrail *types.GuardRail, result *types.ValidationResult) (*Decision, error) {
	switch result.ActionTaken {
	case types.ActionReject:
		v.logger.Warn("Output rejected",
			zap.String("guardrail", guardrail.Key()),
			zap.String("result_id", result.ID),
			zap.Int("errors", result.TotalErrors))
		return &Decision{Action: types.ActionReject, Result: result}, newRejectedError(result, "")

	case types.ActionFix:
		return v.fix(ctx, record, guardrail, result)

	case types.ActionEscalate:
		return v.escalate(ctx, record, guardrail, &Decision{Result: result})

	case types.ActionRetry:
		v.logger.Info("Output needs regeneration",
			zap.String("guardrail", guardrail.Key()),
			zap.String("result_id", result.ID))
		return &Decision{Action: types.ActionRetry, Result: result, Retry: true}, nil

	default:
		if failed := result.Failed(); len(failed) > 0 {
			v.logger.Warn("Guardrail failures logged, output allowed",
				zap.String("guardrail", guardrail.Key()),
				zap.String("result_id", result.ID),
				zap.Int("failed", len(failed)))
		}
		return &Decision{Action: types.ActionLog, Output: record, Result: result}, nil
	}
}

func (v *Validator) fix(ctx context.Context, record types.Record, guardrail *types.GuardRail, initial *types.ValidationResult) (*Decision, error) {
	correctors := correctorsFor(guardrail, initial, v.opts.Correctors)

	fixed := record.Clone()
	applied := make([]string, 0, len(correctors))
	for _, c := range correctors {
		out, err := c.corrector.Correct(ctx, fixed)
		if err != nil {
			v.logger.Error("Corrector failed, rejecting output",
				zap.String("guardrail", guardrail.Key()),
				zap.String("corrector", c.name),
				zap.Error(err))
			return &Decision{Action: types.ActionReject, Result: initial, Initial: initial, Applied: applied},
				newRejectedError(initial, fmt.Sprintf("corrector %s failed: %v", c.name, err))
		}
		fixed = out
		applied = append(applied, c.name)
	}

	revalidated, err := v.Validate(ctx, fixed, guardrail)
	if err != nil {
		return nil, err
	}

	if !revalidated.IsValid {
		v.logger.Warn("Corrected output still invalid, rejecting",
			zap.String("guardrail", guardrail.Key()),
			zap.String("result_id", revalidated.ID),
			zap.Strings("correctors", applied))
		return &Decision{Action: types.ActionReject, Result: revalidated, Initial: initial, Applied: applied},
			newRejectedError(revalidated, "still invalid after correction")
	}

	// The corrected record is enacted on its own resolution. Correction runs
	// once, so a FIX left over is rejected.
	decision := &Decision{
		Result:    revalidated,
		Initial:   initial,
		Corrected: true,
		Applied:   applied,
	}
	switch revalidated.ActionTaken {
	case types.ActionReject, types.ActionFix:
		reason := "rejected after correction"
		if revalidated.ActionTaken == types.ActionFix {
			reason = "still failing after correction, FIX applies once"
		}
		v.logger.Warn("Corrected output rejected",
			zap.String("guardrail", guardrail.Key()),
			zap.String("result_id", revalidated.ID),
			zap.String("resolved", revalidated.ActionTaken.String()),
			zap.Strings("correctors", applied))
		decision.Action = types.ActionReject
		return decision, newRejectedError(revalidated, reason)

	case types.ActionRetry:
		v.logger.Info("Corrected output needs regeneration",
			zap.String("guardrail", guardrail.Key()),
			zap.String("result_id", revalidated.ID))
		decision.Action = types.ActionRetry
		decision.Retry = true
		return decision, nil

	case types.ActionEscalate:
		return v.escalate(ctx, fixed, guardrail, decision)
	}

	v.logger.Info("Output corrected",
		zap.String("guardrail", guardrail.Key()),
		zap.String("result_id", revalidated.ID),
		zap.Strings("correctors", applied))
	decision.Action = types.ActionFix
	decision.Output = fixed
	return decision, nil
}

// escalate queues record for review. On success the record is delivered
// flagged; a record nobody can find for review is rejected instead.
func (v *Validator) escalate(ctx context.Context, record types.Record, guardrail *types.GuardRail, decision *Decision) (*Decision, error) {
	result := decision.Result
	id, err := v.opts.Review.Enqueue(ctx, review.NewItem(record, result))
	if err != nil {
		v.logger.Error("Escalation failed, rejecting output",
			zap.String("guardrail", guardrail.Key()),
			zap.String("result_id", result.ID),
			zap.Error(err))
		decision.Action = types.ActionReject
		return decision, newRejectedError(result, fmt.Sprintf("escalation failed: %v", err))
	}

	decision.Action = types.ActionEscalate
	decision.Output = record
	decision.Escalated = true
	decision.ReviewID = id
	return decision, nil
}
