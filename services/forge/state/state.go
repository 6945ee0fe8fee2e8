// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state persists per-phase counters across scheduler runs.
//
// BadgerDB is the backing store, same tier the trace service uses for its
// journal: local embedded storage with low-latency access. Every mutation
// runs under a per-row lock and a single Badger transaction; failures are
// converted to boolean returns so state tracking can never crash phase
// execution.
package state

import "time"

// PhaseState is the durable record for one (run, phase) pair.
//
// Created lazily with all-zero defaults on first read; never deleted, only
// marked terminal. Version strictly increases on every persisted mutation.
type PhaseState struct {
	// RetryAttempt counts how many times the phase has been re-dispatched
	// by the surrounding controller.
	RetryAttempt int `json:"retry_attempt"`

	// RevisionEpoch counts how many times the phase's scope was revised.
	RevisionEpoch int `json:"revision_epoch"`

	// EscalationLevel counts how many times a failure was escalated to a
	// higher-severity handling path.
	EscalationLevel int `json:"escalation_level"`

	// LastFailureReason is the most recent failure reason, if any.
	LastFailureReason *string `json:"last_failure_reason,omitempty"`

	// LastAttemptAt is the timestamp of the most recent mutation.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// Version increments on every successful persisted mutation.
	Version int `json:"version"`

	// CompletedAt marks terminal success.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// FailedAt marks terminal failure.
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// Terminal reports whether the phase reached a terminal mark.
func (s *PhaseState) Terminal() bool {
	return s.CompletedAt != nil || s.FailedAt != nil
}

// UpdateRequest describes one state mutation. Explicit set values win over
// increments for the same field. A request with no fields set performs
// zero writes.
type UpdateRequest struct {
	// IncrementRetry bumps RetryAttempt by one.
	IncrementRetry bool

	// IncrementEpoch bumps RevisionEpoch by one.
	IncrementEpoch bool

	// IncrementEscalation bumps EscalationLevel by one.
	IncrementEscalation bool

	// SetRetry overrides RetryAttempt.
	SetRetry *int

	// SetEpoch overrides RevisionEpoch.
	SetEpoch *int

	// SetEscalation overrides EscalationLevel.
	SetEscalation *int

	// FailureReason records the latest failure reason.
	FailureReason *string
}

// empty reports whether the request mutates nothing.
func (r UpdateRequest) empty() bool {
	return !r.IncrementRetry && !r.IncrementEpoch && !r.IncrementEscalation &&
		r.SetRetry == nil && r.SetEpoch == nil && r.SetEscalation == nil &&
		r.FailureReason == nil
}

// apply folds the request into the state. Does not touch Version or
// LastAttemptAt; the store owns those.
func (r UpdateRequest) apply(s *PhaseState) {
	if r.IncrementRetry {
		s.RetryAttempt++
	}
	if r.IncrementEpoch {
		s.RevisionEpoch++
	}
	if r.IncrementEscalation {
		s.EscalationLevel++
	}
	if r.SetRetry != nil {
		s.RetryAttempt = *r.SetRetry
	}
	if r.SetEpoch != nil {
		s.RevisionEpoch = *r.SetEpoch
	}
	if r.SetEscalation != nil {
		s.EscalationLevel = *r.SetEscalation
	}
	if r.FailureReason != nil {
		s.LastFailureReason = r.FailureReason
	}
}
