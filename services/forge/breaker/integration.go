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
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianForge/services/forge/health"
	"github.com/AleutianAI/AleutianForge/services/forge/scheduler"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
)

// Alert is the payload delivered to the alert callback when the loop
// transitions into ATTENTION_REQUIRED.
type Alert struct {
	// Status is the overall status that triggered the alert.
	Status health.OverallStatus `json:"status"`

	// Score is the overall score at trigger time.
	Score float64 `json:"score"`

	// CriticalIssues copies the report's critical issues.
	CriticalIssues []string `json:"critical_issues,omitempty"`

	// RaisedAt is the trigger timestamp.
	RaisedAt time.Time `json:"raised_at"`
}

// AlertFunc receives degradation alerts. Implementations must not block;
// slow sinks should buffer internally.
type AlertFunc func(ctx context.Context, alert Alert)

// IntegrationConfig wires the feedback loop together.
type IntegrationConfig struct {
	// Tracker analyzes snapshots; required.
	Tracker *health.Tracker

	// Breaker trips on sustained degradation; required.
	Breaker *CircuitBreaker

	// Detector watches per-phase anomalies; required.
	Detector *Detector

	// CostGuard enforces the spend cap; optional (nil disables).
	CostGuard *CostGuard

	// Baselines are the reference rates for trend analysis.
	Baselines health.Baselines

	// OnAlert is called on transition into ATTENTION_REQUIRED; optional.
	OnAlert AlertFunc

	// AlertInterval throttles alert delivery. Default: 1 minute.
	AlertInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records feedback-loop instruments; optional.
	Metrics *telemetry.Metrics
}

// Integration is the feedback loop hub: it consumes phase outcomes from
// the scheduler, periodically evaluates loop health, drives the circuit
// breaker, applies corrective adjustments, and gates admission.
//
// # Thread Safety
//
// Integration is safe for concurrent use. RecordPhaseOutcome is called
// from scheduler worker goroutines; EvaluateHealth from a periodic loop.
type Integration struct {
	tracker   *health.Tracker
	breaker   *CircuitBreaker
	detector  *Detector
	costGuard *CostGuard
	effect    *EffectivenessTracker
	baselines health.Baselines
	onAlert   AlertFunc
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	mu          sync.Mutex
	dispatched  int
	failed      int
	adjustments Adjustments
	autoPaused  bool
	alerted     bool
}

// NewIntegration assembles the feedback loop.
func NewIntegration(cfg IntegrationConfig) *Integration {
	if cfg.Tracker == nil {
		cfg.Tracker = health.NewTracker(health.TrackerConfig{})
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker(Config{})
	}
	if cfg.Detector == nil {
		cfg.Detector = NewDetector(DetectorConfig{})
	}
	if cfg.AlertInterval <= 0 {
		cfg.AlertInterval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Integration{
		tracker:     cfg.Tracker,
		breaker:     cfg.Breaker,
		detector:    cfg.Detector,
		costGuard:   cfg.CostGuard,
		effect:      NewEffectivenessTracker(),
		baselines:   cfg.Baselines,
		onAlert:     cfg.OnAlert,
		limiter:     rate.NewLimiter(rate.Every(cfg.AlertInterval), 1),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		adjustments: DefaultAdjustments(),
	}
}

// RecordPhaseOutcome consumes one phase outcome from the scheduler.
// Implements scheduler.OutcomeRecorder: it never blocks the scheduling
// loop and never surfaces errors to the run.
func (i *Integration) RecordPhaseOutcome(ctx context.Context, outcome scheduler.Outcome) {
	// Skips carry no execution signal.
	if outcome.Status == scheduler.StatusSkipped {
		return
	}

	failed := outcome.Status == scheduler.StatusFailed

	i.mu.Lock()
	i.dispatched++
	if failed {
		i.failed++
	}
	i.mu.Unlock()

	if i.metrics != nil {
		i.metrics.PhasesDispatchedTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", outcome.Status.String())))
	}

	i.effect.RecordOutcome(!failed)

	if a := i.detector.ObserveDuration(outcome.PhaseID, outcome.Duration); a != nil {
		i.logAnomaly(ctx, a)
	}
	if a := i.detector.ObserveOutcome(failed); a != nil {
		i.logAnomaly(ctx, a)
	}
}

// RecordTokenUsage accounts a phase's token consumption and cost against
// the budget and the token-spike detector.
func (i *Integration) RecordTokenUsage(ctx context.Context, phaseID string, tokens int, cost float64) {
	if i.costGuard != nil {
		i.costGuard.AddUsage(tokens, cost)
	}
	if i.metrics != nil {
		i.metrics.TokensConsumedTotal.Add(ctx, int64(tokens))
	}
	if a := i.detector.ObserveTokens(phaseID, tokens); a != nil {
		i.logAnomaly(ctx, a)
	}
}

// EvaluateHealth runs one feedback-loop cycle: snapshot, analysis,
// breaker update, pause/alert handling, and adjustment application.
//
// # Description
//
// On the transition INTO ATTENTION_REQUIRED the integration pauses
// admission and fires the alert callback exactly once; repeat
// ATTENTION_REQUIRED verdicts stay silent until the status recovers.
// Leaving ATTENTION_REQUIRED lifts the auto-pause (the breaker may still
// refuse admission independently) and re-arms the alert.
func (i *Integration) EvaluateHealth(ctx context.Context) health.FeedbackLoopReport {
	report := i.tracker.AnalyzeFeedbackLoopHealth(i.snapshot(), i.baselines)
	state := i.breaker.Record(report)

	i.mu.Lock()
	entered := report.OverallStatus == health.OverallAttentionRequired && !i.alerted
	if report.OverallStatus == health.OverallAttentionRequired {
		i.autoPaused = true
		i.alerted = true
	} else if report.OverallStatus != health.OverallUnknown {
		i.autoPaused = false
		i.alerted = false
		i.adjustments = DefaultAdjustments()
		i.effect.ClearInForce()
	}
	i.mu.Unlock()

	if i.metrics != nil {
		i.metrics.HealthEvaluationsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("verdict", string(report.OverallStatus))))
	}

	i.logger.LogAttrs(ctx, slog.LevelInfo, "feedback loop evaluated",
		slog.String("status", string(report.OverallStatus)),
		slog.Float64("score", report.OverallScore),
		slog.String("breaker_state", state.String()),
	)

	if entered {
		i.logger.LogAttrs(ctx, slog.LevelWarn, "feedback loop degraded, pausing admission",
			slog.Float64("score", report.OverallScore),
			slog.Int("critical_issues", len(report.CriticalIssues)),
		)
		i.applyCorrections(ctx, report)
		i.fireAlert(ctx, report)
	}

	return report
}

// snapshot assembles the typed counters for trend analysis. Scheduler
// counters are deltas since the previous evaluation, so the verdict
// tracks recent behavior instead of averaging over the run's lifetime.
func (i *Integration) snapshot() health.Snapshot {
	i.mu.Lock()
	dispatched, failed := i.dispatched, i.failed
	i.dispatched, i.failed = 0, 0
	i.mu.Unlock()

	pending, resolved := i.detector.Counters()
	applied, improved := i.effect.Counters()

	var snap health.Snapshot
	if dispatched > 0 {
		snap.Scheduler = &health.SchedulerCounters{
			PhasesDispatched: dispatched,
			PhasesFailed:     failed,
		}
	}
	if pending > 0 || resolved > 0 {
		snap.Anomaly = &health.AnomalyCounters{
			AlertsPending:  pending,
			AlertsResolved: resolved,
		}
	}
	if applied > 0 {
		snap.Escalation = &health.EscalationCounters{
			Escalations: applied,
			Resolved:    improved,
		}
	}
	return snap
}

// applyCorrections maps the degraded report to critical recommendations
// and folds them into the in-force adjustments.
func (i *Integration) applyCorrections(ctx context.Context, report health.FeedbackLoopReport) {
	for _, rec := range i.recommend(report) {
		if rec.Severity != SeverityCritical {
			continue
		}

		i.mu.Lock()
		i.adjustments = ApplyRecommendation(rec, i.adjustments)
		adj := i.adjustments
		i.mu.Unlock()

		i.effect.RecordApplied(rec.Action)
		i.logger.LogAttrs(ctx, slog.LevelWarn, "adjustment applied",
			slog.String("action", string(rec.Action)),
			slog.String("reason", rec.Reason),
			slog.Float64("context_factor", adj.ContextFactor),
			slog.String("model", adj.Model),
			slog.Float64("timeout_factor", adj.TimeoutFactor),
		)
	}
}

// recommend derives corrective recommendations from a degraded report.
func (i *Integration) recommend(report health.FeedbackLoopReport) []Recommendation {
	var recs []Recommendation

	if len(report.CriticalIssues) > 0 {
		recs = append(recs,
			Recommendation{
				Severity: SeverityCritical,
				Action:   ActionDowngradeModel,
				Reason:   report.CriticalIssues[0],
			},
			Recommendation{
				Severity: SeverityCritical,
				Action:   ActionReduceContext,
				Reason:   report.CriticalIssues[0],
			},
		)
	}

	// Scheduler degradation without a severe breach usually means phases
	// are running out of time, not failing outright.
	if comp, ok := report.Components[health.SubsystemScheduler]; ok &&
		comp.Status == health.StatusDegrading && len(report.CriticalIssues) == 0 {
		recs = append(recs, Recommendation{
			Severity: SeverityCritical,
			Action:   ActionExtendTimeout,
			Reason:   "scheduler outcomes degrading",
		})
	}

	return recs
}

// fireAlert delivers the degradation alert, throttled.
func (i *Integration) fireAlert(ctx context.Context, report health.FeedbackLoopReport) {
	if i.onAlert == nil {
		return
	}
	if !i.limiter.Allow() {
		i.logger.LogAttrs(ctx, slog.LevelDebug, "alert suppressed by throttle")
		return
	}
	i.onAlert(ctx, Alert{
		Status:         report.OverallStatus,
		Score:          report.OverallScore,
		CriticalIssues: report.CriticalIssues,
		RaisedAt:       time.Now().UTC(),
	})
}

func (i *Integration) logAnomaly(ctx context.Context, a *Anomaly) {
	if i.metrics != nil {
		i.metrics.AnomaliesTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(a.Kind))))
	}
	i.logger.LogAttrs(ctx, slog.LevelWarn, "anomaly detected",
		slog.String("kind", string(a.Kind)),
		slog.String("phase_id", a.PhaseID),
		slog.Float64("observed", a.Observed),
		slog.Float64("threshold", a.Threshold),
	)
}

// Adjustments returns the corrections currently in force.
func (i *Integration) Adjustments() Adjustments {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.adjustments
}

// Paused reports whether admission is auto-paused by degradation.
func (i *Integration) Paused() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.autoPaused
}

// Resume lifts the auto-pause manually. The breaker's own state is not
// touched; a still-open circuit keeps admission shut.
func (i *Integration) Resume() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.autoPaused = false
}

// admissionGate is the composite scheduler gate.
type admissionGate struct {
	i *Integration
}

// Admit implements scheduler.AdmissionGate: work flows only while the
// breaker allows it, degradation has not paused the loop, and the cost
// guard has budget left.
func (g admissionGate) Admit() bool {
	if !g.i.breaker.IsAvailable() {
		return false
	}
	if g.i.Paused() {
		return false
	}
	if g.i.costGuard != nil && g.i.costGuard.ShouldPause() {
		return false
	}
	return true
}

// Admission returns the composite gate for scheduler wiring.
func (i *Integration) Admission() scheduler.AdmissionGate {
	return admissionGate{i: i}
}

// BudgetHook returns a scheduler budget hook backed by the cost guard.
// Returns nil when no guard is configured.
func (i *Integration) BudgetHook() scheduler.BudgetHook {
	if i.costGuard == nil {
		return nil
	}
	return func(ctx context.Context, task *scheduler.PhaseTask) bool {
		return !i.costGuard.ShouldPause()
	}
}
