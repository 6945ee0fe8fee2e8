// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"time"
)

// Failure reasons recorded on phase outcomes.
const (
	// ReasonTimeout marks a phase that exceeded its timeout.
	ReasonTimeout = "timeout"

	// ReasonExecutionError marks a phase whose work callback returned an error.
	ReasonExecutionError = "execution_error"

	// ReasonBudgetDenied marks a phase skipped by the budget hook.
	ReasonBudgetDenied = "budget_denied"

	// ReasonSkipRequested marks a phase skipped by the caller's skip list.
	ReasonSkipRequested = "skip_requested"
)

// Outcome is the recorded result of one dispatched phase.
type Outcome struct {
	// RunID identifies the scheduling run.
	RunID string `json:"run_id"`

	// PhaseID identifies the phase.
	PhaseID string `json:"phase_id"`

	// Status is the terminal status for this run.
	Status PhaseStatus `json:"status"`

	// Reason is the failure or skip reason, empty on success.
	Reason string `json:"reason,omitempty"`

	// Err is the underlying error, nil on success. Not serialized.
	Err error `json:"-"`

	// Duration is wall-clock time spent in the work callback.
	Duration time.Duration `json:"duration"`
}

// OutcomeRecorder receives every phase outcome as it lands. Implementations
// must not block the scheduling loop; failures must be swallowed and
// logged, never surfaced to the run.
type OutcomeRecorder interface {
	RecordPhaseOutcome(ctx context.Context, outcome Outcome)
}

// ScheduleMetrics aggregates one scheduling run. Recomputed per run, never
// persisted.
type ScheduleMetrics struct {
	// TotalPhases is the number of registered phases.
	TotalPhases int `json:"total_phases"`

	// CompletedPhases counts terminal successes.
	CompletedPhases int `json:"completed_phases"`

	// FailedPhases counts terminal failures.
	FailedPhases int `json:"failed_phases"`

	// SkippedPhases counts phases excluded before dispatch.
	SkippedPhases int `json:"skipped_phases"`

	// ExecutionTime is the wall-clock duration of the run.
	ExecutionTime time.Duration `json:"execution_time"`

	// SequentialBaseline is the sum of estimated durations over non-skipped
	// phases: what a one-at-a-time run would have cost.
	SequentialBaseline time.Duration `json:"sequential_baseline"`

	// ParallelSpeedup is baseline / actual.
	ParallelSpeedup float64 `json:"parallel_speedup"`

	// ResourceUtilization is baseline / actual, reported separately from
	// speedup for callers that treat them as distinct signals.
	ResourceUtilization float64 `json:"resource_utilization"`

	// PhaseDurations maps phase id to measured wall-clock duration.
	PhaseDurations map[string]time.Duration `json:"phase_durations"`
}

// Result summarizes one scheduling run.
type Result struct {
	// RunID is the short unique id for this run.
	RunID string `json:"run_id"`

	// Completed holds ids of successfully completed phases.
	Completed []string `json:"completed"`

	// Failed maps failed phase ids to their failure reason.
	Failed map[string]string `json:"failed"`

	// Skipped holds ids of phases excluded before dispatch.
	Skipped []string `json:"skipped"`

	// Starved is true when the run aborted early because no phase was
	// ready and none were active while unfinished phases remained.
	Starved bool `json:"starved,omitempty"`

	// Success is true only when the failed set is empty and the run did
	// not starve.
	Success bool `json:"success"`

	// Metrics aggregates the run.
	Metrics ScheduleMetrics `json:"metrics"`
}
