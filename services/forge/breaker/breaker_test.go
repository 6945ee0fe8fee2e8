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

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianForge/services/forge/health"
)

func badReport() health.FeedbackLoopReport {
	return health.FeedbackLoopReport{
		OverallStatus: health.OverallAttentionRequired,
		OverallScore:  0.2,
	}
}

func healthyReport() health.FeedbackLoopReport {
	return health.FeedbackLoopReport{
		OverallStatus: health.OverallHealthy,
		OverallScore:  0.6,
	}
}

func TestBreaker_OpensAfterSustainedDegradation(t *testing.T) {
	cb := NewCircuitBreaker(Config{OpenAfter: 3})

	cb.Record(badReport())
	cb.Record(badReport())
	assert.Equal(t, StateClosed, cb.State(), "two bad reports must not trip")
	assert.True(t, cb.IsAvailable())

	cb.Record(badReport())
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.IsAvailable())
}

func TestBreaker_HighScoreAttentionDoesNotCount(t *testing.T) {
	cb := NewCircuitBreaker(Config{OpenAfter: 2, ScoreFloor: 0.4})

	report := health.FeedbackLoopReport{
		OverallStatus: health.OverallAttentionRequired,
		OverallScore:  0.45,
	}
	cb.Record(report)
	cb.Record(report)

	assert.Equal(t, StateClosed, cb.State(), "score above the floor must not extend the streak")
}

func TestBreaker_RecoverySequence(t *testing.T) {
	cb := NewCircuitBreaker(Config{OpenAfter: 1, RecoveryReports: 2})

	cb.Record(badReport())
	assert.Equal(t, StateOpen, cb.State())

	cb.Record(healthyReport())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.IsAvailable(), "half-open must admit so recovery is observable")

	cb.Record(healthyReport())
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_DegradationWhileHalfOpenReopens(t *testing.T) {
	cb := NewCircuitBreaker(Config{OpenAfter: 1, RecoveryReports: 2})

	cb.Record(badReport())
	cb.Record(healthyReport())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Record(badReport())
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_UnknownHoldsPosition(t *testing.T) {
	cb := NewCircuitBreaker(Config{OpenAfter: 2})

	cb.Record(badReport())
	cb.Record(health.FeedbackLoopReport{OverallStatus: health.OverallUnknown})
	cb.Record(badReport())

	assert.Equal(t, StateOpen, cb.State(), "UNKNOWN must not reset the streak")
}

func TestBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(Config{OpenAfter: 1})

	cb.Record(badReport())
	assert.False(t, cb.IsAvailable())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.IsAvailable())
}

func TestBreaker_LastReport(t *testing.T) {
	cb := NewCircuitBreaker(Config{})

	cb.Record(healthyReport())
	got := cb.LastReport()
	assert.Equal(t, health.OverallHealthy, got.OverallStatus)
	assert.Equal(t, 0.6, got.OverallScore)
}
