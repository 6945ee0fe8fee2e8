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

// Wire keys for subsystem counters. Only the sink boundary touches these;
// internal code works with the typed Snapshot.
const (
	wirePhasesAnalyzed   = "phases_analyzed"
	wirePhasesTotal      = "phases_total"
	wireFalsePositives   = "false_positives"
	wireTasksCompleted   = "tasks_completed"
	wireTasksGenerated   = "tasks_generated"
	wireReworkCount      = "rework_count"
	wireEscalations      = "escalations"
	wireResolved         = "resolved"
	wireAlertsPending    = "alerts_pending"
	wireAlertsResolved   = "alerts_resolved"
	wirePhasesDispatched = "phases_dispatched"
	wirePhasesFailed     = "phases_failed"
)

// SnapshotFromWire converts the loose counters map used by external
// telemetry producers into a typed Snapshot. Unknown subsystems and keys
// are ignored rather than rejected, so producers can evolve ahead of
// consumers.
func SnapshotFromWire(wire map[string]map[string]float64) Snapshot {
	var snap Snapshot

	if c, ok := wire[SubsystemReflection]; ok {
		snap.Reflection = &ReflectionCounters{
			PhasesAnalyzed: int(c[wirePhasesAnalyzed]),
			PhasesTotal:    int(c[wirePhasesTotal]),
			FalsePositives: int(c[wireFalsePositives]),
		}
	}
	if c, ok := wire[SubsystemTaskGeneration]; ok {
		snap.TaskGeneration = &TaskGenerationCounters{
			TasksCompleted: int(c[wireTasksCompleted]),
			TasksGenerated: int(c[wireTasksGenerated]),
			ReworkCount:    int(c[wireReworkCount]),
		}
	}
	if c, ok := wire[SubsystemEscalation]; ok {
		snap.Escalation = &EscalationCounters{
			Escalations: int(c[wireEscalations]),
			Resolved:    int(c[wireResolved]),
		}
	}
	if c, ok := wire[SubsystemAnomaly]; ok {
		snap.Anomaly = &AnomalyCounters{
			AlertsPending:  int(c[wireAlertsPending]),
			AlertsResolved: int(c[wireAlertsResolved]),
		}
	}
	if c, ok := wire[SubsystemScheduler]; ok {
		snap.Scheduler = &SchedulerCounters{
			PhasesDispatched: int(c[wirePhasesDispatched]),
			PhasesFailed:     int(c[wirePhasesFailed]),
		}
	}

	return snap
}

// Wire converts a Snapshot back to the loose counters map for producers
// and tests that speak the wire format.
func (s Snapshot) Wire() map[string]map[string]float64 {
	wire := make(map[string]map[string]float64)

	if s.Reflection != nil {
		wire[SubsystemReflection] = map[string]float64{
			wirePhasesAnalyzed: float64(s.Reflection.PhasesAnalyzed),
			wirePhasesTotal:    float64(s.Reflection.PhasesTotal),
			wireFalsePositives: float64(s.Reflection.FalsePositives),
		}
	}
	if s.TaskGeneration != nil {
		wire[SubsystemTaskGeneration] = map[string]float64{
			wireTasksCompleted: float64(s.TaskGeneration.TasksCompleted),
			wireTasksGenerated: float64(s.TaskGeneration.TasksGenerated),
			wireReworkCount:    float64(s.TaskGeneration.ReworkCount),
		}
	}
	if s.Escalation != nil {
		wire[SubsystemEscalation] = map[string]float64{
			wireEscalations: float64(s.Escalation.Escalations),
			wireResolved:    float64(s.Escalation.Resolved),
		}
	}
	if s.Anomaly != nil {
		wire[SubsystemAnomaly] = map[string]float64{
			wireAlertsPending:  float64(s.Anomaly.AlertsPending),
			wireAlertsResolved: float64(s.Anomaly.AlertsResolved),
		}
	}
	if s.Scheduler != nil {
		wire[SubsystemScheduler] = map[string]float64{
			wirePhasesDispatched: float64(s.Scheduler.PhasesDispatched),
			wirePhasesFailed:     float64(s.Scheduler.PhasesFailed),
		}
	}

	return wire
}
