// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"testing"
)

func TestAddPhase_Idempotent(t *testing.T) {
	g := New()

	if err := g.AddPhase("build"); err != nil {
		t.Fatalf("AddPhase: %v", err)
	}
	if err := g.AddPhase("build"); err != nil {
		t.Fatalf("AddPhase repeat: %v", err)
	}
	if got := g.PhaseCount(); got != 1 {
		t.Errorf("PhaseCount = %d, want 1", got)
	}
}

func TestAddPhase_EmptyID(t *testing.T) {
	g := New()

	if err := g.AddPhase(""); !errors.Is(err, ErrEmptyID) {
		t.Errorf("expected ErrEmptyID, got: %v", err)
	}
}

func TestAddDependency_RegistersEndpoints(t *testing.T) {
	g := New()

	if err := g.AddDependency("test", "build"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if !g.Contains("test") || !g.Contains("build") {
		t.Error("endpoints not registered")
	}
	if deps := g.Dependencies("test"); len(deps) != 1 || deps[0] != "build" {
		t.Errorf("Dependencies(test) = %v, want [build]", deps)
	}
}

func TestAddDependency_SelfDependency(t *testing.T) {
	g := New()

	if err := g.AddDependency("build", "build"); !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got: %v", err)
	}
}

func TestAddDependency_CycleRejected(t *testing.T) {
	g := New()

	mustDep(t, g, "b", "a")
	mustDep(t, g, "c", "b")

	edgesBefore := g.EdgeCount()

	err := g.AddDependency("a", "c")
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got: %v", err)
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got: %T", err)
	}
	if len(cycleErr.Path) < 3 {
		t.Errorf("cycle path too short: %v", cycleErr.Path)
	}

	// Rejected edge must leave the graph untouched.
	if got := g.EdgeCount(); got != edgesBefore {
		t.Errorf("EdgeCount = %d after rejected edge, want %d", got, edgesBefore)
	}
}

func TestAddDependency_TwoNodeCycle(t *testing.T) {
	g := New()

	mustDep(t, g, "b", "a")
	if err := g.AddDependency("a", "b"); !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got: %v", err)
	}
}

func TestReadyPhases(t *testing.T) {
	g := New()

	mustDep(t, g, "b", "a")
	mustDep(t, g, "c", "a")
	mustDep(t, g, "d", "b")
	mustDep(t, g, "d", "c")

	ready := g.ReadyPhases(map[string]bool{})
	if len(ready) != 1 || ready[0] != "a" {
		t.Errorf("ReadyPhases(∅) = %v, want [a]", ready)
	}

	ready = g.ReadyPhases(map[string]bool{"a": true})
	if len(ready) != 2 || ready[0] != "b" || ready[1] != "c" {
		t.Errorf("ReadyPhases({a}) = %v, want [b c]", ready)
	}

	ready = g.ReadyPhases(map[string]bool{"a": true, "b": true, "c": true})
	if len(ready) != 1 || ready[0] != "d" {
		t.Errorf("ReadyPhases({a,b,c}) = %v, want [d]", ready)
	}
}

func TestTopologicalSort_OrderRespectsEdges(t *testing.T) {
	g := New()

	mustDep(t, g, "b", "a")
	mustDep(t, g, "c", "a")
	mustDep(t, g, "d", "b")
	mustDep(t, g, "d", "c")
	if err := g.AddPhase("standalone"); err != nil {
		t.Fatalf("AddPhase: %v", err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}

	if len(order) != g.PhaseCount() {
		t.Fatalf("order has %d phases, want %d", len(order), g.PhaseCount())
	}

	pos := make(map[string]int, len(order))
	seen := make(map[string]bool, len(order))
	for i, id := range order {
		if seen[id] {
			t.Fatalf("phase %q appears twice", id)
		}
		seen[id] = true
		pos[id] = i
	}

	for _, id := range g.Phases() {
		for _, dep := range g.Dependencies(id) {
			if pos[dep] >= pos[id] {
				t.Errorf("%q (pos %d) should precede %q (pos %d)", dep, pos[dep], id, pos[id])
			}
		}
	}
}

func TestDependencyDepth(t *testing.T) {
	g := New()

	mustDep(t, g, "b", "a")
	mustDep(t, g, "c", "b")
	mustDep(t, g, "c", "a")

	cases := []struct {
		id   string
		want int
	}{
		{"a", 0},
		{"b", 1},
		{"c", 2},
	}
	for _, tc := range cases {
		if got := g.DependencyDepth(tc.id); got != tc.want {
			t.Errorf("DependencyDepth(%q) = %d, want %d", tc.id, got, tc.want)
		}
	}
}

func mustDep(t *testing.T, g *DependencyGraph, phase, dependsOn string) {
	t.Helper()
	if err := g.AddDependency(phase, dependsOn); err != nil {
		t.Fatalf("AddDependency(%s, %s): %v", phase, dependsOn, err)
	}
}
