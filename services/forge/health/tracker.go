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
	"fmt"
	"time"
)

// TrackerConfig tunes trend classification and scoring.
type TrackerConfig struct {
	// ImprovementThreshold is the percent change above which a metric
	// counts as improving (default: 10).
	ImprovementThreshold float64

	// DegradationThreshold is the percent change below which a metric
	// counts as degrading, as a positive number (default: 10).
	DegradationThreshold float64

	// MinSamplesForTrend is the sample count needed for high confidence
	// (default: 5).
	MinSamplesForTrend int

	// HighConfidence is assigned with enough samples (default: 0.9).
	HighConfidence float64

	// LowConfidence is assigned otherwise (default: 0.3).
	LowConfidence float64

	// SevereFailureRate is the failure-rate level treated as a critical
	// breach regardless of trend (default: 0.5).
	SevereFailureRate float64
}

// DefaultTrackerConfig returns production defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ImprovementThreshold: 10,
		DegradationThreshold: 10,
		MinSamplesForTrend:   5,
		HighConfidence:       0.9,
		LowConfidence:        0.3,
		SevereFailureRate:    0.5,
	}
}

// Score adjustments folded into the component score per metric trend,
// scaled by confidence and clipped to [0,1].
const (
	neutralScore     = 0.5
	improvingBoost   = 0.15
	degradingPenalty = 0.25
)

// Tracker analyzes feedback-loop telemetry into health reports.
//
// Thread Safety: Tracker is stateless after construction; safe for
// concurrent use.
type Tracker struct {
	cfg TrackerConfig
}

// NewTracker creates a Tracker. Zero-valued config fields fall back to
// defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.ImprovementThreshold <= 0 {
		cfg.ImprovementThreshold = def.ImprovementThreshold
	}
	if cfg.DegradationThreshold <= 0 {
		cfg.DegradationThreshold = def.DegradationThreshold
	}
	if cfg.MinSamplesForTrend <= 0 {
		cfg.MinSamplesForTrend = def.MinSamplesForTrend
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = def.HighConfidence
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = def.LowConfidence
	}
	if cfg.SevereFailureRate <= 0 {
		cfg.SevereFailureRate = def.SevereFailureRate
	}
	return &Tracker{cfg: cfg}
}

// computeTrend classifies one metric against its baseline.
//
// PercentChange is sign-normalized: positive always means better, so a
// drop in a lower-is-better metric reports as a positive change.
func (t *Tracker) computeTrend(name string, current, baseline float64, samples int, lowerIsBetter bool) MetricTrend {
	trend := MetricTrend{
		Name:        name,
		Current:     current,
		Baseline:    baseline,
		SampleCount: samples,
		Direction:   TrendStable,
		Confidence:  t.cfg.LowConfidence,
	}

	if samples >= t.cfg.MinSamplesForTrend {
		trend.Confidence = t.cfg.HighConfidence
	}

	if baseline == 0 {
		// No reference: report the raw value, classify as stable.
		return trend
	}

	pct := (current - baseline) / baseline * 100
	if lowerIsBetter {
		pct = -pct
	}
	trend.PercentChange = pct

	switch {
	case pct > t.cfg.ImprovementThreshold:
		trend.Direction = TrendImproving
	case pct < -t.cfg.DegradationThreshold:
		trend.Direction = TrendDegrading
	}

	return trend
}

// componentScore folds metric trends into a [0,1] score. No data is
// neutral (0.5); each trend adjusts the score proportionally to its
// confidence.
func (t *Tracker) componentScore(metrics []MetricTrend) float64 {
	score := neutralScore
	for _, m := range metrics {
		switch m.Direction {
		case TrendImproving:
			score += improvingBoost * m.Confidence
		case TrendDegrading:
			score -= degradingPenalty * m.Confidence
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// componentStatus summarizes metric trends for one subsystem.
func (t *Tracker) componentStatus(metrics []MetricTrend) ComponentStatus {
	if len(metrics) == 0 {
		return StatusInsufficientData
	}
	for _, m := range metrics {
		if m.SampleCount < t.cfg.MinSamplesForTrend {
			return StatusInsufficientData
		}
	}
	for _, m := range metrics {
		if m.Direction == TrendDegrading {
			return StatusDegrading
		}
	}
	for _, m := range metrics {
		if m.Direction == TrendImproving {
			return StatusImproving
		}
	}
	return StatusStable
}

// AnalyzeFeedbackLoopHealth runs trend analysis per subsystem and
// aggregates an overall verdict.
//
// Description:
//
//	HEALTHY when nothing degrades and no critical issues were raised;
//	DEGRADED on isolated degradation; ATTENTION_REQUIRED when multiple
//	subsystems degrade or a severe failure-rate breach is detected;
//	UNKNOWN when the snapshot carries no data at all. The overall score
//	is the mean of component scores.
func (t *Tracker) AnalyzeFeedbackLoopHealth(snapshot Snapshot, baselines Baselines) FeedbackLoopReport {
	report := FeedbackLoopReport{
		GeneratedAt:   time.Now().UTC(),
		OverallStatus: OverallUnknown,
		Components:    make(map[string]ComponentReport),
	}

	if snapshot.Empty() {
		return report
	}

	if c := snapshot.Reflection; c != nil {
		metrics := []MetricTrend{
			t.computeTrend("analysis_rate",
				ratio(c.PhasesAnalyzed, c.PhasesTotal),
				baselines.rate(SubsystemReflection, "analysis_rate"),
				c.PhasesTotal, false),
			t.computeTrend("false_positive_rate",
				ratio(c.FalsePositives, c.PhasesAnalyzed),
				baselines.rate(SubsystemReflection, "false_positive_rate"),
				c.PhasesAnalyzed, true),
		}
		report.Components[SubsystemReflection] = t.componentReport(SubsystemReflection, metrics)
	}

	if c := snapshot.TaskGeneration; c != nil {
		metrics := []MetricTrend{
			t.computeTrend("completion_rate",
				ratio(c.TasksCompleted, c.TasksGenerated),
				baselines.rate(SubsystemTaskGeneration, "completion_rate"),
				c.TasksGenerated, false),
			t.computeTrend("rework_rate",
				ratio(c.ReworkCount, c.TasksCompleted),
				baselines.rate(SubsystemTaskGeneration, "rework_rate"),
				c.TasksGenerated, true),
		}
		report.Components[SubsystemTaskGeneration] = t.componentReport(SubsystemTaskGeneration, metrics)
	}

	if c := snapshot.Escalation; c != nil {
		metrics := []MetricTrend{
			t.computeTrend("resolution_rate",
				ratio(c.Resolved, c.Escalations),
				baselines.rate(SubsystemEscalation, "resolution_rate"),
				c.Escalations, false),
		}
		report.Components[SubsystemEscalation] = t.componentReport(SubsystemEscalation, metrics)
	}

	if c := snapshot.Anomaly; c != nil {
		total := c.AlertsPending + c.AlertsResolved
		metrics := []MetricTrend{
			t.computeTrend("alert_backlog_rate",
				ratio(c.AlertsPending, total),
				baselines.rate(SubsystemAnomaly, "alert_backlog_rate"),
				total, true),
		}
		report.Components[SubsystemAnomaly] = t.componentReport(SubsystemAnomaly, metrics)
	}

	if c := snapshot.Scheduler; c != nil {
		failureRate := ratio(c.PhasesFailed, c.PhasesDispatched)
		metrics := []MetricTrend{
			t.computeTrend("failure_rate",
				failureRate,
				baselines.rate(SubsystemScheduler, "failure_rate"),
				c.PhasesDispatched, true),
		}

		// A severe breach is degrading on its face, baseline or not.
		if failureRate > t.cfg.SevereFailureRate && c.PhasesDispatched >= t.cfg.MinSamplesForTrend {
			metrics[0].Direction = TrendDegrading
			metrics[0].Confidence = t.cfg.HighConfidence
			report.CriticalIssues = append(report.CriticalIssues, fmt.Sprintf(
				"scheduler failure rate %.0f%% exceeds severe threshold %.0f%%",
				failureRate*100, t.cfg.SevereFailureRate*100))
		}

		report.Components[SubsystemScheduler] = t.componentReport(SubsystemScheduler, metrics)
	}

	degrading := 0
	var scoreSum float64
	for name, comp := range report.Components {
		scoreSum += comp.Score
		if comp.Status == StatusDegrading {
			degrading++
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s is degrading", name))
		}
	}
	report.OverallScore = scoreSum / float64(len(report.Components))

	switch {
	case len(report.CriticalIssues) > 0 || degrading >= 2:
		report.OverallStatus = OverallAttentionRequired
	case degrading == 1:
		report.OverallStatus = OverallDegraded
	default:
		report.OverallStatus = OverallHealthy
	}

	return report
}

// componentReport assembles score and status for one subsystem.
func (t *Tracker) componentReport(name string, metrics []MetricTrend) ComponentReport {
	return ComponentReport{
		Component: name,
		Score:     t.componentScore(metrics),
		Status:    t.componentStatus(metrics),
		Metrics:   metrics,
	}
}

// ratio divides counters defensively: zero denominator yields zero.
func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
