// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/breaker"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/health"
	"github.com/AleutianAI/AleutianForge/services/forge/ops"
	"github.com/AleutianAI/AleutianForge/services/forge/scheduler"
	"github.com/AleutianAI/AleutianForge/services/forge/state"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
)

// stateRecorder persists terminal phase outcomes and forwards them to
// the feedback loop.
type stateRecorder struct {
	store   *state.Store
	metrics *telemetry.Metrics
	next    scheduler.OutcomeRecorder
}

func (r *stateRecorder) RecordPhaseOutcome(ctx context.Context, outcome scheduler.Outcome) {
	committed := false
	switch outcome.Status {
	case scheduler.StatusCompleted:
		committed = r.store.MarkComplete(ctx, outcome.RunID, outcome.PhaseID)
	case scheduler.StatusFailed:
		committed = r.store.MarkFailed(ctx, outcome.RunID, outcome.PhaseID, outcome.Reason)
	}
	if committed && r.metrics != nil {
		r.metrics.StateTransactionsTotal.Add(ctx, 1)
	}

	if r.next != nil {
		r.next.RecordPhaseOutcome(ctx, outcome)
	}
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Logging: level is hot-reloadable via the config watcher.
	levelVar := new(slog.LevelVar)
	levelVar.Set(logging.ParseLevel(cfg.Logging.Level).Slog())
	logger := logging.New(logging.Config{
		Level:    logging.ParseLevel(cfg.Logging.Level),
		LogDir:   cfg.Logging.Dir,
		Service:  "forge",
		LevelVar: levelVar,
	})
	defer func() { _ = logger.Close() }()
	slog.SetDefault(logger.Slog())

	if err := config.Watch(ctx, configPath, logger.Slog(), func(next config.Config) {
		levelVar.Set(logging.ParseLevel(next.Logging.Level).Slog())
	}); err != nil {
		logger.Warn("config watch disabled", "error", err.Error())
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	p, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	store, err := state.Open(state.Config{
		Path:           cfg.State.Dir,
		InMemory:       cfg.State.InMemory,
		SyncWrites:     cfg.State.SyncWrites,
		GCInterval:     cfg.State.GCInterval.Std(),
		GCDiscardRatio: 0.5,
		Logger:         logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	meter := otel.Meter("forge.cmd")
	forgeMetrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// Feedback loop: tracker -> breaker -> admission gate.
	var costGuard *breaker.CostGuard
	if cfg.Budget.Cap > 0 {
		costGuard = breaker.NewCostGuard(cfg.Budget.Cap)
	}
	circuit := breaker.NewCircuitBreaker(breaker.Config{
		OpenAfter:       cfg.Breaker.OpenAfter,
		ScoreFloor:      cfg.Breaker.ScoreFloor,
		RecoveryReports: cfg.Breaker.RecoveryReports,
	})
	loop := breaker.NewIntegration(breaker.IntegrationConfig{
		Tracker: health.NewTracker(health.TrackerConfig{
			ImprovementThreshold: cfg.Health.ImprovementThreshold,
			DegradationThreshold: cfg.Health.DegradationThreshold,
			MinSamplesForTrend:   cfg.Health.MinSamplesForTrend,
			SevereFailureRate:    cfg.Health.SevereFailureRate,
		}),
		Breaker:       circuit,
		CostGuard:     costGuard,
		AlertInterval: cfg.Breaker.AlertInterval.Std(),
		Logger:        logger.Slog(),
		Metrics:       forgeMetrics,
		OnAlert: func(ctx context.Context, alert breaker.Alert) {
			logger.Error("feedback loop requires attention",
				"status", string(alert.Status),
				"score", alert.Score,
				"critical_issues", alert.CriticalIssues,
			)
		},
	})

	sched := scheduler.New(cfg.Scheduler.MaxConcurrent, cfg.Scheduler.ResourceBudget, logger.Slog())
	sched.SetAdmissionGate(loop.Admission())
	sched.SetOutcomeRecorder(&stateRecorder{store: store, metrics: forgeMetrics, next: loop})
	if hook := loop.BudgetHook(); hook != nil {
		sched.SetBudgetHook(hook)
	}

	for _, task := range p.tasks() {
		if task.Timeout <= 0 {
			task.Timeout = cfg.Scheduler.DefaultTimeout.Std()
		}
		if err := sched.RegisterPhase(task); err != nil {
			return fmt.Errorf("register phase %q: %w", task.ID, err)
		}
	}

	if err := telemetry.RegisterGauges(meter, telemetry.GaugeSources{
		BreakerState:        func() int64 { return int64(circuit.State()) },
		ResourceUtilization: sched.Resources().TotalUtilization,
		BudgetRemaining: func() float64 {
			if costGuard == nil {
				return 1
			}
			return costGuard.RemainingFraction()
		},
	}); err != nil {
		logger.Warn("gauge registration failed", "error", err.Error())
	}

	opsSrv := ops.NewServer(ops.Options{
		Addr:   cfg.Ops.Addr,
		Health: circuit,
		Gate:   loop.Admission(),
		Logger: logger.Slog(),
	})
	opsSrv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = opsSrv.Shutdown(shutdownCtx)
	}()

	// Periodic health evaluation for the life of the run.
	evalCtx, stopEval := context.WithCancel(ctx)
	defer stopEval()
	go func() {
		ticker := time.NewTicker(cfg.Breaker.EvaluationInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-evalCtx.Done():
				return
			case <-ticker.C:
				loop.EvaluateHealth(evalCtx)
			}
		}
	}()

	result, err := sched.ScheduleAndExecute(ctx, scheduler.Options{
		SkipPhases: skipPhases,
		Sequential: sequential || cfg.Scheduler.Sequential,
	})
	if err != nil {
		return fmt.Errorf("run failed to start: %w", err)
	}

	printSummary(logger, result)

	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// printSummary renders the run result: structured log always, JSON on
// request.
func printSummary(logger *logging.Logger, result *scheduler.Result) {
	logger.Info("run finished",
		"run_id", result.RunID,
		"success", result.Success,
		"completed", len(result.Completed),
		"failed", len(result.Failed),
		"skipped", len(result.Skipped),
		"starved", result.Starved,
		"duration", result.Metrics.ExecutionTime.String(),
		"speedup", fmt.Sprintf("%.2fx", result.Metrics.ParallelSpeedup),
	)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Error("encode result", "error", err.Error())
		}
	}
}
