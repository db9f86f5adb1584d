package engine

import (
	"time"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

// ConditionStatus tracks one condition's continuous-satisfaction run.
// Params: start of the current uninterrupted satisfaction window.
// Returns: duration-tracking state owned by the debouncer per fingerprint.
type ConditionStatus struct {
	SatisfiedSince *time.Time
}

// RuleEvaluation is the evaluator output for one rule against one snapshot.
// Params: combined satisfaction flag and the primary condition's metric value.
// Returns: input for the hysteresis debouncer.
type RuleEvaluation struct {
	Active         bool
	PrimaryValue   float64
	PrimaryPresent bool
}

// EvaluateRule computes rule satisfaction against one metric snapshot.
// All conditions are combined with logical AND. A missing metric field makes
// its condition not-satisfied rather than raising an error (fail-safe).
// Duration conditions are satisfied only after the predicate has held
// continuously for the full window, tracked through statuses.
// Params: rule, snapshot, per-condition statuses (mutated in place), and now.
// Returns: evaluation result with the first condition's value for hysteresis.
func EvaluateRule(rule config.AlertRule, snapshot domain.MetricSnapshot, statuses []ConditionStatus, now time.Time) RuleEvaluation {
	evaluation := RuleEvaluation{Active: true}

	for index, condition := range rule.Conditions {
		value, present := snapshot.Field(condition.Field)
		if index == 0 {
			evaluation.PrimaryValue = value
			evaluation.PrimaryPresent = present
		}

		holds := present && applyOperator(condition.Operator, value, condition.Threshold)
		if !holds {
			statuses[index].SatisfiedSince = nil
			evaluation.Active = false
			continue
		}

		if statuses[index].SatisfiedSince == nil {
			since := now
			statuses[index].SatisfiedSince = &since
		}
		if condition.DurationMinutes > 0 {
			window := time.Duration(condition.DurationMinutes) * time.Minute
			if now.Sub(*statuses[index].SatisfiedSince) < window {
				evaluation.Active = false
			}
		}
	}
	return evaluation
}

// applyOperator applies one comparison predicate.
// Params: operator token, metric value, and threshold.
// Returns: predicate result; unknown operators never match.
func applyOperator(operator string, value, threshold float64) bool {
	switch operator {
	case config.OperatorGT:
		return value > threshold
	case config.OperatorGTE:
		return value >= threshold
	case config.OperatorLT:
		return value < threshold
	case config.OperatorLTE:
		return value <= threshold
	case config.OperatorEQ:
		return value == threshold
	case config.OperatorNE:
		return value != threshold
	default:
		return false
	}
}
