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

import "sync"

// actionStats tracks how phases fared after one adjustment action was
// put in force.
type actionStats struct {
	Applied       int `json:"applied"`
	SuccessAfter  int `json:"success_after"`
	FailuresAfter int `json:"failures_after"`
}

// EffectivenessTracker measures whether applied adjustments actually
// helped: every phase outcome that lands while an adjustment is in force
// is attributed to it.
//
// # Thread Safety
//
// EffectivenessTracker is safe for concurrent use.
type EffectivenessTracker struct {
	mu      sync.Mutex
	stats   map[Action]*actionStats
	inForce []Action
}

// NewEffectivenessTracker creates an empty tracker.
func NewEffectivenessTracker() *EffectivenessTracker {
	return &EffectivenessTracker{stats: make(map[Action]*actionStats)}
}

// RecordApplied marks an adjustment as newly in force.
func (t *EffectivenessTracker) RecordApplied(action Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stat(action)
	s.Applied++

	for _, a := range t.inForce {
		if a == action {
			return
		}
	}
	t.inForce = append(t.inForce, action)
}

// RecordOutcome attributes one phase outcome to every adjustment
// currently in force. A no-op when nothing is in force.
func (t *EffectivenessTracker) RecordOutcome(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range t.inForce {
		s := t.stat(a)
		if success {
			s.SuccessAfter++
		} else {
			s.FailuresAfter++
		}
	}
}

// ClearInForce drops the in-force set, e.g. after health recovers and
// adjustments are lifted. Accumulated stats are kept.
func (t *EffectivenessTracker) ClearInForce() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inForce = nil
}

// Effectiveness returns the post-adjustment success rate for an action,
// and false when no outcomes have been attributed to it yet.
func (t *EffectivenessTracker) Effectiveness(action Action) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[action]
	if !ok {
		return 0, false
	}
	total := s.SuccessAfter + s.FailuresAfter
	if total == 0 {
		return 0, false
	}
	return float64(s.SuccessAfter) / float64(total), true
}

// Counters returns total adjustments applied and how many saw a
// post-adjustment success, for health snapshots.
func (t *EffectivenessTracker) Counters() (applied, improved int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.stats {
		applied += s.Applied
		if s.SuccessAfter > s.FailuresAfter && s.SuccessAfter > 0 {
			improved++
		}
	}
	return applied, improved
}

// stat returns the stats row for an action, creating it if missing;
// callers hold t.mu.
func (t *EffectivenessTracker) stat(action Action) *actionStats {
	s, ok := t.stats[action]
	if !ok {
		s = &actionStats{}
		t.stats[action] = s
	}
	return s
}
