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

// CostGuard tracks cumulative spend against a hard budget cap. Its pause
// decision is independent of health: a perfectly healthy run still stops
// when the money runs out.
//
// # Thread Safety
//
// CostGuard is safe for concurrent use.
type CostGuard struct {
	mu sync.RWMutex

	// budgetCap is the spend ceiling; zero disables the guard.
	budgetCap float64
	spent     float64
	tokens    int64
}

// NewCostGuard creates a guard with the given cap. A cap of zero or less
// disables budget enforcement.
func NewCostGuard(budgetCap float64) *CostGuard {
	return &CostGuard{budgetCap: budgetCap}
}

// AddUsage records tokens consumed and their cost.
func (g *CostGuard) AddUsage(tokens int, cost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens += int64(tokens)
	if cost > 0 {
		g.spent += cost
	}
}

// Spent returns cumulative cost.
func (g *CostGuard) Spent() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.spent
}

// Tokens returns cumulative token usage.
func (g *CostGuard) Tokens() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tokens
}

// RemainingFraction returns the unspent share of the cap in [0,1].
// Returns 1 when the guard is disabled.
func (g *CostGuard) RemainingFraction() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.budgetCap <= 0 {
		return 1
	}
	rem := (g.budgetCap - g.spent) / g.budgetCap
	if rem < 0 {
		return 0
	}
	return rem
}

// ShouldPause reports whether spend has reached the cap.
func (g *CostGuard) ShouldPause() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.budgetCap > 0 && g.spent >= g.budgetCap
}
