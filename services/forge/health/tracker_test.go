// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTrend_Improving(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	trend := tr.computeTrend("analysis_rate", 0.85, 0.70, 10, false)

	assert.Equal(t, TrendImproving, trend.Direction)
	assert.InDelta(t, 21.4, trend.PercentChange, 0.1)
	assert.Equal(t, 0.9, trend.Confidence)
}

func TestComputeTrend_LowerIsBetterInvertsSign(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	// Failure rate dropped from 0.4 to 0.2: that's a +50% improvement.
	trend := tr.computeTrend("failure_rate", 0.2, 0.4, 10, true)
	assert.Equal(t, TrendImproving, trend.Direction)
	assert.InDelta(t, 50, trend.PercentChange, 0.1)

	// Failure rate doubled: degrading.
	trend = tr.computeTrend("failure_rate", 0.8, 0.4, 10, true)
	assert.Equal(t, TrendDegrading, trend.Direction)
	assert.InDelta(t, -100, trend.PercentChange, 0.1)
}

func TestComputeTrend_LowSamplesLowConfidence(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	trend := tr.computeTrend("completion_rate", 0.9, 0.5, 2, false)
	assert.Equal(t, 0.3, trend.Confidence)
	assert.Equal(t, TrendImproving, trend.Direction)
}

func TestComputeTrend_ZeroBaselineIsStable(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	trend := tr.computeTrend("completion_rate", 0.9, 0, 10, false)
	assert.Equal(t, TrendStable, trend.Direction)
	assert.Equal(t, 0.0, trend.PercentChange)
}

func TestComputeTrend_SmallChangeIsStable(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	trend := tr.computeTrend("analysis_rate", 0.72, 0.70, 10, false)
	assert.Equal(t, TrendStable, trend.Direction)
}

func TestComponentScore(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	assert.Equal(t, 0.5, tr.componentScore(nil), "no data is neutral")

	score := tr.componentScore([]MetricTrend{
		{Direction: TrendImproving, Confidence: 0.9},
	})
	assert.Greater(t, score, 0.5)

	score = tr.componentScore([]MetricTrend{
		{Direction: TrendDegrading, Confidence: 0.9},
		{Direction: TrendDegrading, Confidence: 0.9},
		{Direction: TrendDegrading, Confidence: 0.9},
	})
	assert.GreaterOrEqual(t, score, 0.0, "score clipped at zero")
	assert.Less(t, score, 0.5)
}

func TestComponentStatus_Precedence(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	assert.Equal(t, StatusInsufficientData, tr.componentStatus([]MetricTrend{
		{Direction: TrendDegrading, SampleCount: 1},
		{Direction: TrendImproving, SampleCount: 100},
	}), "any under-sampled metric wins")

	assert.Equal(t, StatusDegrading, tr.componentStatus([]MetricTrend{
		{Direction: TrendImproving, SampleCount: 10},
		{Direction: TrendDegrading, SampleCount: 10},
	}), "degrading beats improving")

	assert.Equal(t, StatusImproving, tr.componentStatus([]MetricTrend{
		{Direction: TrendStable, SampleCount: 10},
		{Direction: TrendImproving, SampleCount: 10},
	}))

	assert.Equal(t, StatusStable, tr.componentStatus([]MetricTrend{
		{Direction: TrendStable, SampleCount: 10},
	}))
}

func TestAnalyze_EmptySnapshotIsUnknown(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	report := tr.AnalyzeFeedbackLoopHealth(Snapshot{}, nil)

	assert.Equal(t, OverallUnknown, report.OverallStatus)
	assert.Empty(t, report.Components)
}

func TestAnalyze_DegradedCompletionRate(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	snap := Snapshot{
		TaskGeneration: &TaskGenerationCounters{
			TasksCompleted: 30,
			TasksGenerated: 100,
		},
	}
	baselines := Baselines{
		SubsystemTaskGeneration: {"completion_rate": 0.8},
	}

	report := tr.AnalyzeFeedbackLoopHealth(snap, baselines)

	comp, ok := report.Components[SubsystemTaskGeneration]
	require.True(t, ok)
	assert.Equal(t, StatusDegrading, comp.Status)
	assert.Less(t, comp.Score, 0.5)

	assert.Contains(t,
		[]OverallStatus{OverallDegraded, OverallAttentionRequired},
		report.OverallStatus)
}

func TestAnalyze_SevereFailureRateRaisesCritical(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	snap := Snapshot{
		Scheduler: &SchedulerCounters{
			PhasesDispatched: 20,
			PhasesFailed:     14,
		},
	}

	report := tr.AnalyzeFeedbackLoopHealth(snap, nil)

	require.NotEmpty(t, report.CriticalIssues)
	assert.Equal(t, OverallAttentionRequired, report.OverallStatus)
}

func TestAnalyze_HealthyWhenStable(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	snap := Snapshot{
		Scheduler: &SchedulerCounters{PhasesDispatched: 50, PhasesFailed: 2},
		TaskGeneration: &TaskGenerationCounters{
			TasksCompleted: 48,
			TasksGenerated: 50,
			ReworkCount:    3,
		},
	}
	baselines := Baselines{
		SubsystemScheduler:      {"failure_rate": 0.04},
		SubsystemTaskGeneration: {"completion_rate": 0.95, "rework_rate": 0.06},
	}

	report := tr.AnalyzeFeedbackLoopHealth(snap, baselines)

	assert.Equal(t, OverallHealthy, report.OverallStatus)
	assert.Empty(t, report.CriticalIssues)
	assert.GreaterOrEqual(t, report.OverallScore, 0.4)
}

func TestAnalyze_MultipleDegradationsRequireAttention(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	snap := Snapshot{
		TaskGeneration: &TaskGenerationCounters{TasksCompleted: 20, TasksGenerated: 100},
		Reflection:     &ReflectionCounters{PhasesAnalyzed: 40, PhasesTotal: 100},
	}
	baselines := Baselines{
		SubsystemTaskGeneration: {"completion_rate": 0.8},
		SubsystemReflection:     {"analysis_rate": 0.9},
	}

	report := tr.AnalyzeFeedbackLoopHealth(snap, baselines)

	assert.Equal(t, OverallAttentionRequired, report.OverallStatus)
	assert.Len(t, report.Warnings, 2)
}

func TestSnapshotWireRoundTrip(t *testing.T) {
	snap := Snapshot{
		Scheduler:  &SchedulerCounters{PhasesDispatched: 7, PhasesFailed: 1},
		Reflection: &ReflectionCounters{PhasesAnalyzed: 5, PhasesTotal: 6, FalsePositives: 1},
	}

	got := SnapshotFromWire(snap.Wire())

	require.NotNil(t, got.Scheduler)
	assert.Equal(t, *snap.Scheduler, *got.Scheduler)
	require.NotNil(t, got.Reflection)
	assert.Equal(t, *snap.Reflection, *got.Reflection)
	assert.Nil(t, got.TaskGeneration)
}
