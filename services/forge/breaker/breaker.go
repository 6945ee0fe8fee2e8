// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker closes the telemetry feedback loop: it turns health
// reports into a circuit-breaker verdict, detects per-phase anomalies,
// enforces a cost budget, and exposes a composite admission gate for the
// scheduler.
package breaker

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianForge/services/forge/health"
)

// State is the circuit breaker's position.
//
// # State Diagram
//
//	CLOSED ──[sustained ATTENTION_REQUIRED]──► OPEN
//	   ▲                                         │
//	   │                                         │
//	   └──[second recovery]── HALF_OPEN ◄──[first recovery]
type State int

const (
	// StateClosed is the normal operating state.
	StateClosed State = iota

	// StateOpen means sustained degradation tripped the circuit.
	StateOpen

	// StateHalfOpen means health is recovering but not yet trusted.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Config controls when the circuit opens and recovers.
type Config struct {
	// OpenAfter is the number of consecutive ATTENTION_REQUIRED reports
	// (with a score below ScoreFloor) before the circuit opens.
	// Default: 3
	OpenAfter int

	// ScoreFloor is the overall score below which an ATTENTION_REQUIRED
	// report counts toward opening. Default: 0.4
	ScoreFloor float64

	// RecoveryReports is the number of consecutive non-degraded reports
	// needed to close from half-open. Default: 2
	RecoveryReports int

	// OnStateChange is called when the state transitions. Called
	// asynchronously to avoid blocking the evaluation path.
	OnStateChange func(from, to State)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		OpenAfter:       3,
		ScoreFloor:      0.4,
		RecoveryReports: 2,
	}
}

// CircuitBreaker trips on sustained feedback-loop degradation. Unlike a
// request-level breaker it is driven by periodic health reports, not
// individual call results.
//
// # Thread Safety
//
// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	mu         sync.RWMutex
	state      State
	badStreak  int
	recoveries int
	lastReport health.FeedbackLoopReport
}

// NewCircuitBreaker creates a breaker in the closed state. Zero-valued
// config fields fall back to defaults.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.OpenAfter <= 0 {
		cfg.OpenAfter = def.OpenAfter
	}
	if cfg.ScoreFloor <= 0 {
		cfg.ScoreFloor = def.ScoreFloor
	}
	if cfg.RecoveryReports <= 0 {
		cfg.RecoveryReports = def.RecoveryReports
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Record feeds one health verdict into the breaker and returns the
// resulting state.
//
// # Description
//
// An ATTENTION_REQUIRED verdict with an overall score below the floor
// extends the bad streak; the circuit opens once the streak reaches
// OpenAfter. Any other verdict resets the streak, moves an open circuit
// to half-open on the first recovery, and closes it after
// RecoveryReports consecutive recoveries. UNKNOWN verdicts are neutral:
// they neither extend the streak nor count as recovery.
func (cb *CircuitBreaker) Record(report health.FeedbackLoopReport) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastReport = report

	switch {
	case report.OverallStatus == health.OverallAttentionRequired &&
		report.OverallScore < cb.cfg.ScoreFloor:
		cb.badStreak++
		cb.recoveries = 0
		if cb.state != StateOpen && cb.badStreak >= cb.cfg.OpenAfter {
			cb.transitionTo(StateOpen)
		}
		// A degraded report while half-open reopens immediately.
		if cb.state == StateHalfOpen {
			cb.transitionTo(StateOpen)
		}

	case report.OverallStatus == health.OverallUnknown:
		// No data: hold position.

	default:
		cb.badStreak = 0
		switch cb.state {
		case StateOpen:
			cb.recoveries = 1
			cb.transitionTo(StateHalfOpen)
		case StateHalfOpen:
			cb.recoveries++
			if cb.recoveries >= cb.cfg.RecoveryReports {
				cb.transitionTo(StateClosed)
			}
		}
	}

	return cb.state
}

// IsAvailable reports whether work may be admitted. Half-open admits:
// recovery is only observable if phases keep flowing.
func (cb *CircuitBreaker) IsAvailable() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state != StateOpen
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// LastReport returns the most recently recorded health report.
func (cb *CircuitBreaker) LastReport() health.FeedbackLoopReport {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastReport
}

// Reset forces the circuit closed and clears streaks. Use when the
// operator has resolved the degradation out of band.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.badStreak = 0
	cb.recoveries = 0
	cb.transitionTo(StateClosed)
}

// transitionTo changes state; callers hold cb.mu.
func (cb *CircuitBreaker) transitionTo(state State) {
	if cb.state == state {
		return
	}
	old := cb.state
	cb.state = state
	if cb.cfg.OnStateChange != nil {
		// Run the callback without the lock to prevent deadlocks.
		go cb.cfg.OnStateChange(old, state)
	}
}
