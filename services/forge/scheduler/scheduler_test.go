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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

func noopWork(ctx context.Context) error { return nil }

func sleepWork(d time.Duration) WorkFunc {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestRegisterPhase_Duplicate(t *testing.T) {
	s := New(2, 1.0, nil)

	if err := s.RegisterPhase(&PhaseTask{ID: "build", Work: noopWork}); err != nil {
		t.Fatalf("RegisterPhase: %v", err)
	}

	err := s.RegisterPhase(&PhaseTask{ID: "build", Work: noopWork})
	if !errors.Is(err, ErrDuplicatePhase) {
		t.Fatalf("expected ErrDuplicatePhase, got: %v", err)
	}

	var dup *DuplicatePhaseError
	if !errors.As(err, &dup) || dup.PhaseID != "build" {
		t.Errorf("expected *DuplicatePhaseError for build, got: %v", err)
	}

	if got := s.PhaseCount(); got != 1 {
		t.Errorf("PhaseCount = %d, want 1", got)
	}
}

func TestRegisterPhase_Validation(t *testing.T) {
	s := New(2, 1.0, nil)

	if err := s.RegisterPhase(&PhaseTask{ID: "x"}); !errors.Is(err, ErrNilWork) {
		t.Errorf("expected ErrNilWork, got: %v", err)
	}
	if err := s.RegisterPhase(&PhaseTask{ID: "x", Work: noopWork, ResourceRequirement: 1.5}); !errors.Is(err, ErrInvalidRequirement) {
		t.Errorf("expected ErrInvalidRequirement, got: %v", err)
	}
	if err := s.RegisterPhase(&PhaseTask{Work: noopWork}); !errors.Is(err, graph.ErrEmptyID) {
		t.Errorf("expected ErrEmptyID, got: %v", err)
	}
}

func TestExecutionOrder_CompositeKey(t *testing.T) {
	s := New(2, 1.0, nil)

	mustRegister(t, s, &PhaseTask{ID: "root-low", Priority: PriorityLow, EstimatedDuration: time.Second, Work: noopWork})
	mustRegister(t, s, &PhaseTask{ID: "root-crit", Priority: PriorityCritical, EstimatedDuration: time.Second, Work: noopWork})
	mustRegister(t, s, &PhaseTask{ID: "root-crit-long", Priority: PriorityCritical, EstimatedDuration: 5 * time.Second, Work: noopWork})
	mustRegister(t, s, &PhaseTask{ID: "child", Priority: PriorityCritical, DependsOn: []string{"root-low"}, Work: noopWork})

	order, err := s.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder: %v", err)
	}

	want := []string{"root-crit-long", "root-crit", "root-low", "child"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestScheduleAndExecute_DiamondRunsInParallel(t *testing.T) {
	s := New(2, 1.0, nil)

	unit := 100 * time.Millisecond

	var mu sync.Mutex
	starts := make(map[string]time.Time)
	ends := make(map[string]time.Time)
	tracked := func(id string, d time.Duration) WorkFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			starts[id] = time.Now()
			mu.Unlock()
			time.Sleep(d)
			mu.Lock()
			ends[id] = time.Now()
			mu.Unlock()
			return nil
		}
	}

	mustRegister(t, s, &PhaseTask{ID: "a", EstimatedDuration: unit, Work: tracked("a", unit)})
	mustRegister(t, s, &PhaseTask{ID: "b", DependsOn: []string{"a"}, EstimatedDuration: unit, Work: tracked("b", unit)})
	mustRegister(t, s, &PhaseTask{ID: "c", DependsOn: []string{"a"}, EstimatedDuration: unit, Work: tracked("c", unit)})

	start := time.Now()
	result, err := s.ScheduleAndExecute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}
	wall := time.Since(start)

	if !result.Success {
		t.Fatalf("run failed: %+v", result)
	}
	if len(result.Completed) != 3 {
		t.Fatalf("Completed = %v, want 3 phases", result.Completed)
	}

	// A finishes before B and C start.
	for _, id := range []string{"b", "c"} {
		if starts[id].Before(ends["a"]) {
			t.Errorf("%s started before a completed", id)
		}
	}

	// B and C overlap: total ≈ 2 units, not 3.
	if wall >= 3*unit {
		t.Errorf("wall time %v suggests sequential execution", wall)
	}
	if result.Metrics.ParallelSpeedup <= 1 {
		t.Errorf("ParallelSpeedup = %v, want > 1", result.Metrics.ParallelSpeedup)
	}

	if got := s.Resources().ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after run = %d, want 0", got)
	}
}

func TestScheduleAndExecute_ResourceLimitsHold(t *testing.T) {
	s := New(2, 1.0, nil)

	var mu sync.Mutex
	active, maxActive := 0, 0
	work := func(ctx context.Context) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	for i := 0; i < 6; i++ {
		mustRegister(t, s, &PhaseTask{
			ID:                  fmt.Sprintf("p%d", i),
			ResourceRequirement: 0.4,
			Work:                work,
		})
	}

	result, err := s.ScheduleAndExecute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}
	if !result.Success {
		t.Fatalf("run failed: %+v", result)
	}

	// Concurrency cap is 2; budget 1.0 / 0.4 also caps at 2.
	if maxActive > 2 {
		t.Errorf("max concurrent phases = %d, want <= 2", maxActive)
	}
	if got := s.Resources().ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after run = %d, want 0", got)
	}
}

func TestScheduleAndExecute_Timeout(t *testing.T) {
	s := New(2, 1.0, nil)

	mustRegister(t, s, &PhaseTask{
		ID:      "slow",
		Timeout: 30 * time.Millisecond,
		Work:    sleepWork(5 * time.Second),
	})
	mustRegister(t, s, &PhaseTask{ID: "fast", Work: noopWork})

	result, err := s.ScheduleAndExecute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	if result.Success {
		t.Error("run with a timed-out phase must not report success")
	}
	if reason := result.Failed["slow"]; reason != ReasonTimeout {
		t.Errorf("Failed[slow] = %q, want %q", reason, ReasonTimeout)
	}
	if len(result.Completed) != 1 || result.Completed[0] != "fast" {
		t.Errorf("Completed = %v, want [fast]", result.Completed)
	}
}

func TestScheduleAndExecute_ExecutionError(t *testing.T) {
	s := New(2, 1.0, nil)

	boom := errors.New("patch rejected")
	mustRegister(t, s, &PhaseTask{ID: "audit", Work: func(ctx context.Context) error { return boom }})
	mustRegister(t, s, &PhaseTask{ID: "docs", Work: noopWork})

	result, err := s.ScheduleAndExecute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	if reason := result.Failed["audit"]; reason != ReasonExecutionError {
		t.Errorf("Failed[audit] = %q, want %q", reason, ReasonExecutionError)
	}
	if len(result.Completed) != 1 {
		t.Errorf("Completed = %v, want [docs]", result.Completed)
	}
}

func TestScheduleAndExecute_StarvationAfterFailure(t *testing.T) {
	s := New(2, 1.0, nil)

	mustRegister(t, s, &PhaseTask{ID: "a", Work: func(ctx context.Context) error {
		return errors.New("build broke")
	}})
	mustRegister(t, s, &PhaseTask{ID: "b", DependsOn: []string{"a"}, Work: noopWork})

	result, err := s.ScheduleAndExecute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	if !result.Starved {
		t.Error("expected starvation abort: b can never become ready")
	}
	if result.Success {
		t.Error("starved run must not report success")
	}
	if st, _ := s.Status("b"); st == StatusCompleted || st == StatusRunning {
		t.Errorf("b status = %v, should never have dispatched", st)
	}
	if got := s.Resources().ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after starved run = %d, want 0", got)
	}
}

func TestScheduleAndExecute_SkipList(t *testing.T) {
	s := New(2, 1.0, nil)

	mustRegister(t, s, &PhaseTask{ID: "a", Work: noopWork})
	mustRegister(t, s, &PhaseTask{ID: "lint", Work: noopWork})

	result, err := s.ScheduleAndExecute(context.Background(), Options{SkipPhases: []string{"lint"}})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	if len(result.Skipped) != 1 || result.Skipped[0] != "lint" {
		t.Errorf("Skipped = %v, want [lint]", result.Skipped)
	}
	if !result.Success {
		t.Errorf("skips alone must not fail the run: %+v", result)
	}
	if st, _ := s.Status("lint"); st != StatusSkipped {
		t.Errorf("lint status = %v, want skipped", st)
	}
}

func TestScheduleAndExecute_BudgetHookDeniesDispatch(t *testing.T) {
	s := New(2, 1.0, nil)
	s.SetBudgetHook(func(ctx context.Context, task *PhaseTask) bool {
		return task.ID != "expensive"
	})

	mustRegister(t, s, &PhaseTask{ID: "cheap", Work: noopWork})
	mustRegister(t, s, &PhaseTask{ID: "expensive", Work: noopWork})

	result, err := s.ScheduleAndExecute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	if len(result.Skipped) != 1 || result.Skipped[0] != "expensive" {
		t.Errorf("Skipped = %v, want [expensive]", result.Skipped)
	}
	if len(result.Completed) != 1 || result.Completed[0] != "cheap" {
		t.Errorf("Completed = %v, want [cheap]", result.Completed)
	}
}

type closedGate struct{}

func (closedGate) Admit() bool { return false }

func TestScheduleAndExecute_AdmissionGateBlocksRun(t *testing.T) {
	s := New(2, 1.0, nil)
	s.SetAdmissionGate(closedGate{})

	mustRegister(t, s, &PhaseTask{ID: "a", Work: noopWork})

	result, err := s.ScheduleAndExecute(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	if len(result.Completed) != 0 {
		t.Errorf("Completed = %v, want none with gate closed", result.Completed)
	}
	if result.Success {
		t.Error("gated run with pending work must not report success")
	}
}

func TestScheduleAndExecute_SequentialMode(t *testing.T) {
	s := New(4, 1.0, nil)

	var mu sync.Mutex
	var order []string
	work := func(id string) WorkFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			if id == "b" {
				return errors.New("flaky test run")
			}
			return nil
		}
	}

	mustRegister(t, s, &PhaseTask{ID: "a", Work: work("a")})
	mustRegister(t, s, &PhaseTask{ID: "b", DependsOn: []string{"a"}, Work: work("b")})
	mustRegister(t, s, &PhaseTask{ID: "c", DependsOn: []string{"b"}, Work: work("c")})

	result, err := s.ScheduleAndExecute(context.Background(), Options{Sequential: true})
	if err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	// Sequential mode does not halt on failure: c still runs after b fails.
	if len(order) != 3 {
		t.Fatalf("executed %v, want all three phases", order)
	}
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("execution order = %v, want [a b c]", order)
	}
	if reason := result.Failed["b"]; reason != ReasonExecutionError {
		t.Errorf("Failed[b] = %q, want %q", reason, ReasonExecutionError)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingSink) RecordPhaseOutcome(_ context.Context, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestScheduleAndExecute_OutcomesReachRecorder(t *testing.T) {
	s := New(2, 1.0, nil)
	sink := &recordingSink{}
	s.SetOutcomeRecorder(sink)

	mustRegister(t, s, &PhaseTask{ID: "a", Work: noopWork})
	mustRegister(t, s, &PhaseTask{ID: "b", Work: func(ctx context.Context) error { return errors.New("nope") }})

	if _, err := s.ScheduleAndExecute(context.Background(), Options{}); err != nil {
		t.Fatalf("ScheduleAndExecute: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.outcomes) != 2 {
		t.Fatalf("recorded %d outcomes, want 2", len(sink.outcomes))
	}
	byID := make(map[string]Outcome)
	for _, o := range sink.outcomes {
		byID[o.PhaseID] = o
	}
	if byID["a"].Status != StatusCompleted {
		t.Errorf("outcome a = %v, want completed", byID["a"].Status)
	}
	if byID["b"].Status != StatusFailed || byID["b"].Reason != ReasonExecutionError {
		t.Errorf("outcome b = %+v, want failed/execution_error", byID["b"])
	}
}

func TestReset(t *testing.T) {
	s := New(2, 1.0, nil)

	mustRegister(t, s, &PhaseTask{ID: "a", Work: noopWork})
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := s.PhaseCount(); got != 0 {
		t.Errorf("PhaseCount after reset = %d, want 0", got)
	}
	// The id is registrable again.
	mustRegister(t, s, &PhaseTask{ID: "a", Work: noopWork})
}

func mustRegister(t *testing.T, s *Scheduler, task *PhaseTask) {
	t.Helper()
	if err := s.RegisterPhase(task); err != nil {
		t.Fatalf("RegisterPhase(%s): %v", task.ID, err)
	}
}
