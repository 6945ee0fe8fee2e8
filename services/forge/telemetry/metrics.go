// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the forge orchestrator's
// composition root.
//
// Description:
//
//	Provides counters for state persistence, budget accounting, and the
//	feedback loop. Per-phase scheduling instruments are owned by the
//	scheduler itself; everything here uses the "forge_" prefix for
//	consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Scheduling Metrics ---

	// PhasesDispatchedTotal counts phase outcomes seen by the feedback
	// loop, labeled by status.
	PhasesDispatchedTotal metric.Int64Counter

	// --- State Store Metrics ---

	// StateTransactionsTotal counts committed state transactions.
	StateTransactionsTotal metric.Int64Counter

	// --- Feedback Loop Metrics ---

	// AnomaliesTotal counts detected anomalies by kind.
	AnomaliesTotal metric.Int64Counter

	// HealthEvaluationsTotal counts feedback-loop evaluations by verdict.
	HealthEvaluationsTotal metric.Int64Counter

	// --- Budget Metrics ---

	// TokensConsumedTotal counts tokens charged to the cost guard.
	TokensConsumedTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PhasesDispatchedTotal, err = meter.Int64Counter(
		"forge_phases_dispatched_total",
		metric.WithDescription("Phase outcomes seen by the feedback loop"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create phases_dispatched_total: %w", err)
	}

	m.StateTransactionsTotal, err = meter.Int64Counter(
		"forge_state_transactions_total",
		metric.WithDescription("Committed state store transactions"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create state_transactions_total: %w", err)
	}

	m.AnomaliesTotal, err = meter.Int64Counter(
		"forge_anomalies_total",
		metric.WithDescription("Detected anomalies"),
		metric.WithUnit("{anomaly}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create anomalies_total: %w", err)
	}

	m.HealthEvaluationsTotal, err = meter.Int64Counter(
		"forge_health_evaluations_total",
		metric.WithDescription("Feedback loop health evaluations"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create health_evaluations_total: %w", err)
	}

	m.TokensConsumedTotal, err = meter.Int64Counter(
		"forge_tokens_consumed_total",
		metric.WithDescription("Tokens charged to the cost guard"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tokens_consumed_total: %w", err)
	}

	return m, nil
}

// GaugeSources supplies read callbacks for the observable gauges. Nil
// callbacks skip registration of that gauge.
type GaugeSources struct {
	// BreakerState reports circuit state (0=closed, 1=open, 2=half-open).
	BreakerState func() int64

	// ResourceUtilization reports the fractional budget in use [0,1].
	ResourceUtilization func() float64

	// BudgetRemaining reports the unspent cost fraction [0,1].
	BudgetRemaining func() float64
}

// RegisterGauges wires observable gauges to live sources.
//
// Description:
//
//	Observable gauges are pulled at collection time rather than pushed,
//	so the sources must be cheap and safe to call from the exporter's
//	goroutine.
func RegisterGauges(meter metric.Meter, src GaugeSources) error {
	var observables []metric.Observable

	var breakerGauge metric.Int64ObservableGauge
	var utilGauge, budgetGauge metric.Float64ObservableGauge
	var err error

	if src.BreakerState != nil {
		breakerGauge, err = meter.Int64ObservableGauge(
			"forge_breaker_state",
			metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
		)
		if err != nil {
			return fmt.Errorf("create breaker_state: %w", err)
		}
		observables = append(observables, breakerGauge)
	}

	if src.ResourceUtilization != nil {
		utilGauge, err = meter.Float64ObservableGauge(
			"forge_resource_utilization",
			metric.WithDescription("Fraction of the resource budget in use"),
		)
		if err != nil {
			return fmt.Errorf("create resource_utilization: %w", err)
		}
		observables = append(observables, utilGauge)
	}

	if src.BudgetRemaining != nil {
		budgetGauge, err = meter.Float64ObservableGauge(
			"forge_budget_remaining",
			metric.WithDescription("Fraction of the cost budget remaining"),
		)
		if err != nil {
			return fmt.Errorf("create budget_remaining: %w", err)
		}
		observables = append(observables, budgetGauge)
	}

	if len(observables) == 0 {
		return nil
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if src.BreakerState != nil {
			o.ObserveInt64(breakerGauge, src.BreakerState())
		}
		if src.ResourceUtilization != nil {
			o.ObserveFloat64(utilGauge, src.ResourceUtilization())
		}
		if src.BudgetRemaining != nil {
			o.ObserveFloat64(budgetGauge, src.BudgetRemaining())
		}
		return nil
	}, observables...)
	if err != nil {
		return fmt.Errorf("register gauge callback: %w", err)
	}

	return nil
}
