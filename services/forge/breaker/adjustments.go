// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

// Severity ranks a recommendation. Only critical recommendations are
// applied automatically; the rest are advisory.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Action names a corrective adjustment.
type Action string

const (
	// ActionReduceContext halves the context budget factor.
	ActionReduceContext Action = "reduce_context"

	// ActionDowngradeModel steps the model one rung down the hierarchy.
	ActionDowngradeModel Action = "downgrade_model"

	// ActionExtendTimeout multiplies the timeout factor by 1.5.
	ActionExtendTimeout Action = "extend_timeout"
)

// Multipliers applied per action.
const (
	contextReduceFactor = 0.5
	timeoutExtendFactor = 1.5
)

// Recommendation is one corrective suggestion emitted by health
// evaluation.
type Recommendation struct {
	Severity Severity `json:"severity"`
	Action   Action   `json:"action"`
	Reason   string   `json:"reason"`
}

// Adjustments is the cumulative set of corrections currently in force.
// Callers read it when shaping the next dispatch.
type Adjustments struct {
	// ContextFactor scales the context budget; 1.0 means unmodified.
	ContextFactor float64 `json:"context_factor"`

	// Model is the model tier in force.
	Model string `json:"model"`

	// TimeoutFactor scales phase timeouts; 1.0 means unmodified.
	TimeoutFactor float64 `json:"timeout_factor"`
}

// DefaultAdjustments returns the unmodified baseline.
func DefaultAdjustments() Adjustments {
	return Adjustments{
		ContextFactor: 1.0,
		Model:         "opus",
		TimeoutFactor: 1.0,
	}
}

// modelHierarchy orders tiers from most to least capable. Downgrades
// walk right; the last tier is a floor.
var modelHierarchy = []string{"opus", "sonnet", "haiku"}

// downgradeModel returns the next tier down, or the same tier when
// already at the floor or when the tier is unknown.
func downgradeModel(model string) string {
	for i, m := range modelHierarchy {
		if m == model {
			if i+1 < len(modelHierarchy) {
				return modelHierarchy[i+1]
			}
			return model
		}
	}
	return model
}

// ApplyRecommendation folds one recommendation into the current
// adjustments. Non-critical recommendations are returned unchanged.
func ApplyRecommendation(rec Recommendation, current Adjustments) Adjustments {
	if rec.Severity != SeverityCritical {
		return current
	}

	switch rec.Action {
	case ActionReduceContext:
		current.ContextFactor *= contextReduceFactor
	case ActionDowngradeModel:
		current.Model = downgradeModel(current.Model)
	case ActionExtendTimeout:
		current.TimeoutFactor *= timeoutExtendFactor
	}
	return current
}
