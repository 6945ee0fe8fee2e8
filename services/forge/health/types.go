// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health converts raw feedback-loop telemetry into per-subsystem
// trends and an overall health verdict.
//
// Telemetry enters as typed per-subsystem counter structs (the loose wire
// format converts at the sink boundary only, never internally) and leaves
// as a JSON-serializable FeedbackLoopReport for the circuit breaker and
// downstream dashboards.
package health

import "time"

// Subsystem names used in snapshots and reports.
const (
	SubsystemReflection     = "reflection"
	SubsystemTaskGeneration = "task_generation"
	SubsystemEscalation     = "escalation"
	SubsystemAnomaly        = "anomaly_detection"
	SubsystemScheduler      = "scheduler"
)

// TrendDirection classifies a metric's movement against its baseline.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"
)

// ComponentStatus summarizes one subsystem.
type ComponentStatus string

const (
	StatusImproving        ComponentStatus = "IMPROVING"
	StatusStable           ComponentStatus = "STABLE"
	StatusDegrading        ComponentStatus = "DEGRADING"
	StatusInsufficientData ComponentStatus = "INSUFFICIENT_DATA"
)

// OverallStatus is the aggregate verdict for the feedback loop.
type OverallStatus string

const (
	OverallHealthy           OverallStatus = "HEALTHY"
	OverallDegraded          OverallStatus = "DEGRADED"
	OverallAttentionRequired OverallStatus = "ATTENTION_REQUIRED"
	OverallUnknown           OverallStatus = "UNKNOWN"
)

// MetricTrend is one metric's movement relative to its baseline.
type MetricTrend struct {
	// Name identifies the derived metric, e.g. "completion_rate".
	Name string `json:"name"`

	// Current is the value computed from this snapshot.
	Current float64 `json:"current"`

	// Baseline is the reference value the trend is measured against.
	Baseline float64 `json:"baseline"`

	// PercentChange is signed so that positive always means better.
	PercentChange float64 `json:"percent_change"`

	// Direction classifies the change.
	Direction TrendDirection `json:"direction"`

	// SampleCount is the number of observations behind Current.
	SampleCount int `json:"sample_count"`

	// Confidence is high (0.9) with enough samples, low (0.3) otherwise.
	Confidence float64 `json:"confidence"`
}

// ComponentReport is the health verdict for one subsystem.
type ComponentReport struct {
	// Component names the subsystem.
	Component string `json:"component"`

	// Score is in [0,1]; 0.5 is neutral.
	Score float64 `json:"score"`

	// Status summarizes the metric trends.
	Status ComponentStatus `json:"status"`

	// Metrics lists the individual trends.
	Metrics []MetricTrend `json:"metrics"`
}

// FeedbackLoopReport is the aggregate health verdict.
type FeedbackLoopReport struct {
	// GeneratedAt is the analysis timestamp.
	GeneratedAt time.Time `json:"generated_at"`

	// OverallStatus is the aggregate verdict.
	OverallStatus OverallStatus `json:"overall_status"`

	// OverallScore is the mean of component scores.
	OverallScore float64 `json:"overall_score"`

	// Components maps subsystem name to its report.
	Components map[string]ComponentReport `json:"components"`

	// CriticalIssues lists severe breaches that demand attention.
	CriticalIssues []string `json:"critical_issues,omitempty"`

	// Warnings lists non-critical degradations.
	Warnings []string `json:"warnings,omitempty"`
}

// ReflectionCounters covers the phase-analysis subsystem.
type ReflectionCounters struct {
	PhasesAnalyzed int `json:"phases_analyzed"`
	PhasesTotal    int `json:"phases_total"`
	FalsePositives int `json:"false_positives"`
}

// TaskGenerationCounters covers generated-task throughput and rework.
type TaskGenerationCounters struct {
	TasksCompleted int `json:"tasks_completed"`
	TasksGenerated int `json:"tasks_generated"`
	ReworkCount    int `json:"rework_count"`
}

// EscalationCounters covers failure escalation handling.
type EscalationCounters struct {
	Escalations int `json:"escalations"`
	Resolved    int `json:"resolved"`
}

// AnomalyCounters covers the anomaly detector's alert backlog.
type AnomalyCounters struct {
	AlertsPending  int `json:"alerts_pending"`
	AlertsResolved int `json:"alerts_resolved"`
}

// SchedulerCounters covers dispatch outcomes.
type SchedulerCounters struct {
	PhasesDispatched int `json:"phases_dispatched"`
	PhasesFailed     int `json:"phases_failed"`
}

// Snapshot is the typed telemetry input for one analysis call. Nil
// sections mean the subsystem reported nothing this cycle.
type Snapshot struct {
	Reflection     *ReflectionCounters     `json:"reflection,omitempty"`
	TaskGeneration *TaskGenerationCounters `json:"task_generation,omitempty"`
	Escalation     *EscalationCounters     `json:"escalation,omitempty"`
	Anomaly        *AnomalyCounters        `json:"anomaly_detection,omitempty"`
	Scheduler      *SchedulerCounters      `json:"scheduler,omitempty"`
}

// Empty reports whether the snapshot carries no data at all.
func (s Snapshot) Empty() bool {
	return s.Reflection == nil && s.TaskGeneration == nil &&
		s.Escalation == nil && s.Anomaly == nil && s.Scheduler == nil
}

// Baselines maps subsystem -> derived metric name -> baseline rate.
type Baselines map[string]map[string]float64

// rate returns the baseline for a metric, or 0 when absent.
func (b Baselines) rate(subsystem, metric string) float64 {
	if b == nil {
		return 0
	}
	return b[subsystem][metric]
}
