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

// DefaultPhaseTimeout bounds phases that don't specify their own timeout.
const DefaultPhaseTimeout = 10 * time.Minute

// Priority orders phases for dispatch. Lower ordinal dispatches first.
type Priority int

const (
	// PriorityCritical phases dispatch before everything else.
	PriorityCritical Priority = iota

	// PriorityHigh phases dispatch before normal work.
	PriorityHigh

	// PriorityNormal is the default.
	PriorityNormal

	// PriorityLow phases dispatch last.
	PriorityLow
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// PhaseStatus tracks a phase through one scheduling run.
//
// Transitions: PENDING -> READY -> RUNNING -> {COMPLETED, FAILED, SKIPPED}.
// There is no retry transition inside the scheduler; a surrounding
// controller re-registers failed phases on a fresh run.
type PhaseStatus int

const (
	// StatusPending means the phase is registered but not yet dispatchable.
	StatusPending PhaseStatus = iota

	// StatusReady means all dependencies are satisfied.
	StatusReady

	// StatusRunning means the phase's work callback is executing.
	StatusRunning

	// StatusCompleted is terminal success.
	StatusCompleted

	// StatusFailed is terminal failure (timeout or execution error).
	StatusFailed

	// StatusSkipped means the phase was excluded before dispatch.
	StatusSkipped
)

// String returns the human-readable status name.
func (s PhaseStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// WorkFunc is the unit of work for a phase. The scheduler awaits it under
// the phase timeout; the callback must honor context cancellation, since
// the scheduler reports a timeout outcome without forcibly stopping the
// underlying executor.
type WorkFunc func(ctx context.Context) error

// PhaseTask is one schedulable unit of work.
//
// The dependency set is immutable once a scheduling run starts. MaxRetries
// is a policy hint persisted alongside phase state; the run loop itself
// never re-dispatches a failed phase.
type PhaseTask struct {
	// ID uniquely identifies the phase within a scheduler.
	ID string

	// Name is the display name for logs and summaries.
	Name string

	// Priority orders dispatch among equally ready phases.
	Priority Priority

	// DependsOn lists phase ids that must complete first.
	DependsOn []string

	// EstimatedDuration feeds the sequential baseline and dispatch ordering.
	EstimatedDuration time.Duration

	// ResourceRequirement is the fraction (0-1) of the total budget this
	// phase consumes while running.
	ResourceRequirement float64

	// Timeout bounds the work callback. Zero means DefaultPhaseTimeout.
	Timeout time.Duration

	// MaxRetries is a retry policy hint for the surrounding controller.
	MaxRetries int

	// Work is the unit of work executed when the phase is dispatched.
	Work WorkFunc
}

// timeout returns the effective timeout for the phase.
func (t *PhaseTask) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultPhaseTimeout
}

// efficiency scores a phase for dispatch ordering: estimated seconds of
// work per unit of resource. Longer, lighter phases dispatch first among
// equal priorities to reduce tail latency.
func (t *PhaseTask) efficiency() float64 {
	req := t.ResourceRequirement
	if req < 0.1 {
		req = 0.1
	}
	return t.EstimatedDuration.Seconds() / req
}
