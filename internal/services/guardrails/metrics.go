package guardrails

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

var (
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pguard_validations_total",
			Help: "Total number of guardrail validations",
		},
		[]string{"guardrail", "action", "valid"},
	)

	validationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pguard_validation_duration_seconds",
			Help:    "Guardrail validation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"guardrail"},
	)

	constraintFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pguard_constraint_failures_total",
			Help: "Total number of failed constraint evaluations",
		},
		[]string{"guardrail", "constraint", "severity"},
	)

	checkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pguard_check_errors_total",
			Help: "Total number of check functions that errored, panicked or timed out",
		},
		[]string{"guardrail", "constraint"},
	)

	enforcementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pguard_enforcements_total",
			Help: "Total number of enacted failure actions",
		},
		[]string{"guardrail", "action"},
	)

	traceBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pguard_trace_buffer_entries",
			Help: "Number of entries held in validator trace buffers",
		},
	)
)

func recordValidation(result *types.ValidationResult) {
	valid := "false"
	if result.IsValid {
		valid = "true"
	}
	validationsTotal.WithLabelValues(result.GuardrailName, result.ActionTaken.String(), valid).Inc()
	validationDuration.WithLabelValues(result.GuardrailName).Observe(result.ValidationTimeMs / 1000)

	for _, entry := range result.Entries {
		if !entry.Passed {
			constraintFailuresTotal.WithLabelValues(result.GuardrailName, entry.ConstraintName, entry.Severity.String()).Inc()
		}
	}
}
