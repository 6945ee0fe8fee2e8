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
	"fmt"
	"strings"
)

// Sentinel errors for the dependency graph.
var (
	// ErrCycle indicates an operation would create or traverse a dependency cycle.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrEmptyID indicates a phase identifier was empty.
	ErrEmptyID = errors.New("phase id must not be empty")

	// ErrSelfDependency indicates a phase was declared to depend on itself.
	ErrSelfDependency = errors.New("phase cannot depend on itself")
)

// CycleError reports a dependency cycle with the path that closes it.
//
// The Path holds phase identifiers in dependency order; the last element
// repeats the first to make the cycle explicit in logs.
type CycleError struct {
	Path []string
}

// NewCycleError creates a CycleError from the offending path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycle.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(e.Path, " -> "))
}

// Unwrap allows errors.Is(err, ErrCycle) to match.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}
