// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the phase dependency graph for the Forge scheduler.
//
// The graph is mutable up to the point scheduling starts: phases are
// registered one at a time and edges are added individually, with cycle
// detection running before any edge commits. This differs from a build-once
// DAG builder in that a rejected edge leaves the graph exactly as it was.
package graph

import (
	"sort"
	"sync"
)

// DependencyGraph is a directed acyclic graph over phase identifiers.
//
// Description:
//
//	Tracks which phases depend on which, answers ready-set queries against
//	a completed set, and produces topological orderings. The acyclicity
//	invariant is enforced on every mutation: AddDependency refuses any edge
//	that would close a cycle and leaves the edge set unchanged.
//
// Thread Safety:
//
//	Safe for concurrent use. Mutation and queries are guarded by a RWMutex.
type DependencyGraph struct {
	mu sync.RWMutex

	// deps maps a phase to the set of phases it depends on.
	deps map[string]map[string]struct{}
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		deps: make(map[string]map[string]struct{}),
	}
}

// AddPhase registers a phase identifier. Idempotent.
func (g *DependencyGraph) AddPhase(id string) error {
	if id == "" {
		return ErrEmptyID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.deps[id]; !ok {
		g.deps[id] = make(map[string]struct{})
	}
	return nil
}

// AddDependency records that phase depends on dependsOn.
//
// Description:
//
//	Registers both endpoints if they are not yet known, then checks whether
//	the new edge would close a cycle by searching for a dependency path from
//	dependsOn back to phase. Only if no such path exists is the edge
//	committed; on failure the graph is left unchanged and a *CycleError
//	describing the offending path is returned.
//
// Inputs:
//
//	phase - The dependent phase identifier.
//	dependsOn - The phase that must complete first.
//
// Outputs:
//
//	error - Non-nil on empty ids, self dependency, or a would-be cycle.
func (g *DependencyGraph) AddDependency(phase, dependsOn string) error {
	if phase == "" || dependsOn == "" {
		return ErrEmptyID
	}
	if phase == dependsOn {
		return ErrSelfDependency
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.deps[phase]; !ok {
		g.deps[phase] = make(map[string]struct{})
	}
	if _, ok := g.deps[dependsOn]; !ok {
		g.deps[dependsOn] = make(map[string]struct{})
	}

	// Reverse reachability: if phase is reachable from dependsOn by following
	// dependency edges, adding (phase -> dependsOn) closes a cycle.
	if path := g.findPath(dependsOn, phase); path != nil {
		return NewCycleError(append([]string{phase}, path...))
	}

	g.deps[phase][dependsOn] = struct{}{}
	return nil
}

// findPath returns a dependency path from 'from' to 'to', or nil.
// Caller must hold at least a read lock.
func (g *DependencyGraph) findPath(from, to string) []string {
	visited := make(map[string]bool)

	var dfs func(node string, path []string) []string
	dfs = func(node string, path []string) []string {
		path = append(path, node)
		if node == to {
			return path
		}
		visited[node] = true
		for dep := range g.deps[node] {
			if visited[dep] {
				continue
			}
			if found := dfs(dep, path); found != nil {
				return found
			}
		}
		return nil
	}

	return dfs(from, nil)
}

// ReadyPhases returns phases not in completed whose full dependency set is
// a subset of completed. Results are sorted for deterministic dispatch.
func (g *DependencyGraph) ReadyPhases(completed map[string]bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := make([]string, 0)
	for id, deps := range g.deps {
		if completed[id] {
			continue
		}
		satisfied := true
		for dep := range deps {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)
	return ready
}

// TopologicalSort returns all phases in dependency order: every phase
// appears after everything it depends on.
//
// Description:
//
//	Depth-first post-order traversal. A back-edge encountered during the
//	walk produces a *CycleError; this is defensive only, since AddDependency
//	rejects cycle-closing edges before they commit.
//
// Outputs:
//
//	[]string - Every registered phase exactly once, dependencies first.
//	error - Non-nil if a cycle is found (should be unreachable).
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Deterministic traversal order.
	ids := make([]string, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	order := make([]string, 0, len(ids))

	var visit func(node string, path []string) error
	visit = func(node string, path []string) error {
		if inStack[node] {
			return NewCycleError(append(path, node))
		}
		if visited[node] {
			return nil
		}
		inStack[node] = true

		deps := make([]string, 0, len(g.deps[node]))
		for dep := range g.deps[node] {
			deps = append(deps, dep)
		}
		sort.Strings(deps)

		for _, dep := range deps {
			if err := visit(dep, append(path, node)); err != nil {
				return err
			}
		}

		inStack[node] = false
		visited[node] = true
		order = append(order, node)
		return nil
	}

	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// Dependencies returns a copy of the dependency set for a phase.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	deps := make([]string, 0, len(g.deps[id]))
	for dep := range g.deps[id] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// DependencyDepth returns the length of the longest dependency chain below
// a phase. Roots have depth 0.
func (g *DependencyGraph) DependencyDepth(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	memo := make(map[string]int)
	var depth func(node string) int
	depth = func(node string) int {
		if d, ok := memo[node]; ok {
			return d
		}
		max := 0
		for dep := range g.deps[node] {
			if d := depth(dep) + 1; d > max {
				max = d
			}
		}
		memo[node] = max
		return max
	}

	return depth(id)
}

// Contains reports whether a phase is registered.
func (g *DependencyGraph) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deps[id]
	return ok
}

// PhaseCount returns the number of registered phases.
func (g *DependencyGraph) PhaseCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.deps)
}

// Phases returns all registered phase identifiers, sorted.
func (g *DependencyGraph) Phases() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EdgeCount returns the total number of dependency edges. Used by tests to
// verify that rejected mutations leave the graph unchanged.
func (g *DependencyGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, deps := range g.deps {
		n += len(deps)
	}
	return n
}
