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
	"errors"
	"fmt"
)

// Sentinel errors for the phase scheduler.
var (
	// ErrDuplicatePhase indicates a phase id was registered twice.
	ErrDuplicatePhase = errors.New("phase already registered")

	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilWork indicates a phase was registered without a work callback.
	ErrNilWork = errors.New("phase work callback must not be nil")

	// ErrInvalidRequirement indicates a resource requirement outside [0,1].
	ErrInvalidRequirement = errors.New("resource requirement must be in [0,1]")

	// ErrRunInProgress indicates ScheduleAndExecute was called while a run
	// is already active on this scheduler.
	ErrRunInProgress = errors.New("scheduling run already in progress")
)

// DuplicatePhaseError reports the id that was registered twice.
type DuplicatePhaseError struct {
	PhaseID string
}

// Error implements the error interface.
func (e *DuplicatePhaseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicatePhase.Error(), e.PhaseID)
}

// Unwrap allows errors.Is(err, ErrDuplicatePhase) to match.
func (e *DuplicatePhaseError) Unwrap() error {
	return ErrDuplicatePhase
}
