// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resource tracks concurrency slots and fractional resource budget
// for the Forge scheduler.
//
// Two independent limits gate dispatch: a maximum number of concurrently
// active phases (counting-semaphore semantics) and a fractional budget
// (0-1) summed over the resource requirements of active phases.
package resource

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultBudget is the total fractional resource budget when unconfigured.
const DefaultBudget = 1.0

// Manager enforces the concurrency and budget limits.
//
// Description:
//
//	Acquire blocks until a concurrency slot is free, then records the
//	allocation against the budget. Release frees both. The allocation map
//	is the single shared-mutation point during a scheduling run.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	maxConcurrent int64
	budget        float64

	slots *semaphore.Weighted

	mu          sync.Mutex
	allocations map[string]float64
	allocated   float64
}

// NewManager creates a Manager with the given limits.
//
// Inputs:
//
//	maxConcurrent - Maximum simultaneously active phases. Values < 1 are
//	    treated as 1.
//	budget - Total fractional resource budget. Values <= 0 fall back to
//	    DefaultBudget.
func NewManager(maxConcurrent int, budget float64) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Manager{
		maxConcurrent: int64(maxConcurrent),
		budget:        budget,
		slots:         semaphore.NewWeighted(int64(maxConcurrent)),
		allocations:   make(map[string]float64),
	}
}

// CanAllocate reports whether a phase with the given requirement could be
// admitted right now without blocking.
func (m *Manager) CanAllocate(id string, requirement float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active := m.allocations[id]; active {
		return false
	}
	if int64(len(m.allocations)) >= m.maxConcurrent {
		return false
	}
	return m.allocated+requirement <= m.budget+budgetEpsilon
}

// Acquire blocks until a concurrency slot is free, then records the
// allocation.
//
// Description:
//
//	The slot wait honors context cancellation. Once a slot is held the
//	budget is re-verified under the lock; if admitting the phase would
//	exceed the budget the slot is returned and ErrBudgetExceeded is
//	reported so the caller can defer the phase rather than fail it.
//
// Outputs:
//
//	error - ErrBudgetExceeded, ErrAlreadyAllocated, or the context error.
func (m *Manager) Acquire(ctx context.Context, id string, requirement float64) error {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active := m.allocations[id]; active {
		m.slots.Release(1)
		return ErrAlreadyAllocated
	}
	if m.allocated+requirement > m.budget+budgetEpsilon {
		m.slots.Release(1)
		return ErrBudgetExceeded
	}

	m.allocations[id] = requirement
	m.allocated += requirement
	return nil
}

// Release frees the allocation and its concurrency slot. Releasing an
// unknown id is a no-op.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requirement, ok := m.allocations[id]
	if !ok {
		return
	}

	delete(m.allocations, id)
	m.allocated -= requirement
	if m.allocated < 0 {
		m.allocated = 0
	}
	m.slots.Release(1)
}

// TotalUtilization returns the fraction of the budget currently allocated.
func (m *Manager) TotalUtilization() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated / m.budget
}

// AvailableSlots returns the number of free concurrency slots.
func (m *Manager) AvailableSlots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.maxConcurrent) - len(m.allocations)
}

// ActiveCount returns the number of active allocations.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocations)
}

// Budget returns the configured total budget.
func (m *Manager) Budget() float64 {
	return m.budget
}

// budgetEpsilon absorbs float accumulation error so that requirements
// summing exactly to the budget are admitted.
const budgetEpsilon = 1e-9
