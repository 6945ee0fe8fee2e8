// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs dependency-ordered phases with bounded concurrency
// and resource budgeting.
//
// The scheduler owns a dependency graph and a resource manager. Callers
// register phases, then invoke one scheduling run. Each dispatch outcome is
// handed to an optional OutcomeRecorder (the telemetry/state integration);
// an optional admission gate and budget hook throttle dispatch based on
// live health and spend.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/resource"
)

var (
	tracer = otel.Tracer("forge.scheduler")
	meter  = otel.Meter("forge.scheduler")
)

// AdmissionGate decides whether new dispatch is allowed. The circuit
// breaker integration implements this; a closed gate pauses dispatch
// without failing phases.
type AdmissionGate interface {
	Admit() bool
}

// BudgetHook is consulted immediately before each dispatch. Returning
// false marks the phase SKIPPED without consuming resources.
type BudgetHook func(ctx context.Context, task *PhaseTask) bool

// Options controls one scheduling run.
type Options struct {
	// SkipPhases are pre-marked SKIPPED before the run starts. Skip lists
	// are not honored retroactively for already-dispatched phases.
	SkipPhases []string

	// Sequential executes phases one at a time in execution order.
	Sequential bool
}

// Scheduler coordinates one run of registered phases.
//
// Description:
//
//	Maintains the dependency graph and per-phase status, computes ready
//	sets, dispatches work under resource limits and awaits completions
//	first-done-first-served. Failures never abort the surrounding run;
//	starvation (nothing ready, nothing active, work remaining) exits early
//	with a partial result and a warning.
//
// Thread Safety:
//
//	Registration and a single run may not overlap. Status queries are safe
//	at any time. One scheduler instance owns a given run at a time.
type Scheduler struct {
	logger *slog.Logger

	graph     *graph.DependencyGraph
	resources *resource.Manager

	mu       sync.Mutex
	tasks    map[string]*PhaseTask
	statuses map[string]PhaseStatus
	running  bool

	gate       AdmissionGate
	budgetHook BudgetHook
	recorder   OutcomeRecorder

	// Metrics (initialized lazily)
	metricsOnce    sync.Once
	phaseLatency   metric.Float64Histogram
	phaseSuccesses metric.Int64Counter
	phaseFailures  metric.Int64Counter
	phasesSkipped  metric.Int64Counter
	activePhases   metric.Int64UpDownCounter
	runLatency     metric.Float64Histogram
}

// New creates a Scheduler with the given concurrency and budget limits.
//
// Inputs:
//
//	maxConcurrent - Maximum simultaneously running phases.
//	budget - Total fractional resource budget (<= 0 means 1.0).
//	logger - Logger for run logs. If nil, uses slog.Default().
func New(maxConcurrent int, budget float64, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:    logger,
		graph:     graph.New(),
		resources: resource.NewManager(maxConcurrent, budget),
		tasks:     make(map[string]*PhaseTask),
		statuses:  make(map[string]PhaseStatus),
	}
}

// SetAdmissionGate installs the dispatch gate. Nil means always admit.
func (s *Scheduler) SetAdmissionGate(gate AdmissionGate) {
	s.gate = gate
}

// SetBudgetHook installs the pre-dispatch budget check. Nil disables it.
func (s *Scheduler) SetBudgetHook(hook BudgetHook) {
	s.budgetHook = hook
}

// SetOutcomeRecorder installs the outcome sink. Nil disables recording.
func (s *Scheduler) SetOutcomeRecorder(recorder OutcomeRecorder) {
	s.recorder = recorder
}

// Resources exposes the resource manager for introspection.
func (s *Scheduler) Resources() *resource.Manager {
	return s.resources
}

// initMetrics lazily initializes instruments. Failures degrade
// observability but never block scheduling.
func (s *Scheduler) initMetrics() {
	s.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		s.phaseLatency, err = meter.Float64Histogram("forge_phase_duration_seconds",
			metric.WithDescription("Time spent executing each phase"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "phase_latency: "+err.Error())
		}

		s.phaseSuccesses, err = meter.Int64Counter("forge_phase_success_total",
			metric.WithDescription("Number of completed phases"),
		)
		if err != nil {
			initErrors = append(initErrors, "phase_successes: "+err.Error())
		}

		s.phaseFailures, err = meter.Int64Counter("forge_phase_failure_total",
			metric.WithDescription("Number of failed phases"),
		)
		if err != nil {
			initErrors = append(initErrors, "phase_failures: "+err.Error())
		}

		s.phasesSkipped, err = meter.Int64Counter("forge_phase_skipped_total",
			metric.WithDescription("Number of phases skipped before dispatch"),
		)
		if err != nil {
			initErrors = append(initErrors, "phases_skipped: "+err.Error())
		}

		s.activePhases, err = meter.Int64UpDownCounter("forge_active_phases",
			metric.WithDescription("Number of currently executing phases"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_phases: "+err.Error())
		}

		s.runLatency, err = meter.Float64Histogram("forge_run_duration_seconds",
			metric.WithDescription("Total scheduling run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			s.logger.Error("failed to initialize some scheduler metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// RegisterPhase adds a phase to the scheduler.
//
// Description:
//
//	Fails with *DuplicatePhaseError if the id is already registered and
//	with *graph.CycleError if the declared dependencies would close a
//	cycle. On any failure the scheduler's state is left valid: a phase
//	whose edges are rejected is not registered.
//
// Outputs:
//
//	error - Non-nil on duplicate id, nil work, invalid requirement, or cycle.
func (s *Scheduler) RegisterPhase(task *PhaseTask) error {
	if task == nil || task.ID == "" {
		return graph.ErrEmptyID
	}
	if task.Work == nil {
		return ErrNilWork
	}
	if task.ResourceRequirement < 0 || task.ResourceRequirement > 1 {
		return ErrInvalidRequirement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunInProgress
	}
	if _, exists := s.tasks[task.ID]; exists {
		return &DuplicatePhaseError{PhaseID: task.ID}
	}

	if err := s.graph.AddPhase(task.ID); err != nil {
		return err
	}
	for _, dep := range task.DependsOn {
		if err := s.graph.AddDependency(task.ID, dep); err != nil {
			return err
		}
	}

	s.tasks[task.ID] = task
	s.statuses[task.ID] = StatusPending
	return nil
}

// PhaseCount returns the number of registered phases.
func (s *Scheduler) PhaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Status returns the current status of a phase.
func (s *Scheduler) Status(id string) (PhaseStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	return st, ok
}

// ExecutionOrder returns phases in dispatch order.
//
// Description:
//
//	Topological order refined by a composite key: dependency depth
//	ascending (roots first), then priority ascending (critical first),
//	then estimated duration descending (long work early to reduce tail
//	latency). Depth strictly increases along every edge, so the re-sort
//	cannot violate dependency order.
func (s *Scheduler) ExecutionOrder() ([]string, error) {
	order, err := s.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[string]int, len(order))
	for _, id := range order {
		depths[id] = s.graph.DependencyDepth(id)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if depths[a] != depths[b] {
			return depths[a] < depths[b]
		}
		ta, tb := s.tasks[a], s.tasks[b]
		if ta.Priority != tb.Priority {
			return ta.Priority < tb.Priority
		}
		return ta.EstimatedDuration > tb.EstimatedDuration
	})

	return order, nil
}

// ScheduleAndExecute runs all registered phases to completion.
//
// Description:
//
//	In concurrent mode the loop computes the ready set, dispatches what the
//	resource manager admits, and blocks on the first completion before
//	looping. In sequential mode phases run one at a time in execution
//	order. Either way a phase failure never halts the run; the result
//	carries completed/failed/skipped sets and run metrics, and the
//	resource manager is guaranteed to end with zero active allocations.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	opts - Skip list and mode selection.
//
// Outputs:
//
//	*Result - Always non-nil when error is nil.
//	error - Non-nil only for caller errors (nil context, overlapping runs).
func (s *Scheduler) ScheduleAndExecute(ctx context.Context, opts Options) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.initMetrics()

	runID := uuid.NewString()[:12]

	ctx, span := tracer.Start(ctx, "forge.Run",
		trace.WithAttributes(
			attribute.String("forge.run_id", runID),
			attribute.Int("forge.phase_count", s.PhaseCount()),
			attribute.Bool("forge.sequential", opts.Sequential),
		),
	)
	defer span.End()

	s.logger.Info("scheduling run started",
		slog.String("run_id", runID),
		slog.Int("phases", s.PhaseCount()),
		slog.Bool("sequential", opts.Sequential),
	)

	run := newRunState(runID, opts.SkipPhases)
	start := time.Now()

	var err error
	if opts.Sequential {
		err = s.runSequential(ctx, run)
	} else {
		err = s.runConcurrent(ctx, run)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	elapsed := time.Since(start)
	if s.runLatency != nil {
		s.runLatency.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("run_id", runID)),
		)
	}

	result := s.buildResult(run, elapsed)

	if result.Success {
		span.SetStatus(codes.Ok, "")
		s.logger.Info("scheduling run completed",
			slog.String("run_id", runID),
			slog.Duration("duration", elapsed),
			slog.Int("completed", len(result.Completed)),
			slog.Int("skipped", len(result.Skipped)),
			slog.Float64("speedup", result.Metrics.ParallelSpeedup),
		)
	} else {
		span.SetStatus(codes.Error, "run finished with failures")
		s.logger.Warn("scheduling run finished with failures",
			slog.String("run_id", runID),
			slog.Duration("duration", elapsed),
			slog.Int("completed", len(result.Completed)),
			slog.Int("failed", len(result.Failed)),
			slog.Int("skipped", len(result.Skipped)),
			slog.Bool("starved", result.Starved),
		)
	}

	return result, nil
}

// runState tracks one scheduling run.
type runState struct {
	runID     string
	skipSet   map[string]bool
	completed map[string]bool
	failed    map[string]string
	skipped   map[string]bool
	active    map[string]bool
	durations map[string]time.Duration
	starved   bool
}

func newRunState(runID string, skipPhases []string) *runState {
	skip := make(map[string]bool, len(skipPhases))
	for _, id := range skipPhases {
		skip[id] = true
	}
	return &runState{
		runID:     runID,
		skipSet:   skip,
		completed: make(map[string]bool),
		failed:    make(map[string]string),
		skipped:   make(map[string]bool),
		active:    make(map[string]bool),
		durations: make(map[string]time.Duration),
	}
}

// finished reports whether every phase reached a terminal status.
func (s *Scheduler) finished(run *runState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(run.completed)+len(run.failed)+len(run.skipped) >= len(s.tasks)
}

// phaseResult travels from a phase goroutine back to the run loop.
type phaseResult struct {
	id       string
	err      error
	reason   string
	duration time.Duration
}

// runSequential executes phases one at a time in execution order.
func (s *Scheduler) runSequential(ctx context.Context, run *runState) error {
	order, err := s.ExecutionOrder()
	if err != nil {
		return err
	}

	for _, id := range order {
		select {
		case <-ctx.Done():
			s.logger.Warn("run canceled, remaining phases not dispatched",
				slog.String("run_id", run.runID),
				slog.String("next_phase", id),
			)
			return nil
		default:
		}

		task := s.task(id)
		if task == nil {
			// Declared as a dependency but never registered.
			continue
		}

		if run.skipSet[id] {
			s.markSkipped(ctx, run, id, ReasonSkipRequested)
			continue
		}
		if s.budgetHook != nil && !s.budgetHook(ctx, task) {
			s.markSkipped(ctx, run, id, ReasonBudgetDenied)
			continue
		}

		s.setStatus(id, StatusRunning)
		res := s.executePhase(ctx, run.runID, task)
		s.recordOutcome(ctx, run, res)
	}

	return nil
}

// runConcurrent is the ready-set dispatch loop with first-completion-wins.
func (s *Scheduler) runConcurrent(ctx context.Context, run *runState) error {
	results := make(chan phaseResult, s.PhaseCount())

	for !s.finished(run) {
		select {
		case <-ctx.Done():
			// Let in-flight phases drain; no new dispatch.
			if len(run.active) == 0 {
				s.logger.Warn("run canceled with phases unfinished",
					slog.String("run_id", run.runID),
				)
				return nil
			}
			s.recordOutcome(ctx, run, <-results)
			continue
		default:
		}

		dispatched := s.dispatchReady(ctx, run, results)

		if len(run.active) == 0 {
			if dispatched == 0 {
				if !s.finished(run) {
					run.starved = true
					s.logger.Warn("no phases ready and none active; aborting run with partial result",
						slog.String("run_id", run.runID),
						slog.Int("completed", len(run.completed)),
						slog.Int("failed", len(run.failed)),
						slog.Int("skipped", len(run.skipped)),
					)
				}
				return nil
			}
			continue
		}

		// First completion wins; the loop re-plans after every landing.
		s.recordOutcome(ctx, run, <-results)
	}

	return nil
}

// dispatchReady starts every ready phase the gate, budget hook and resource
// manager admit. Returns the number of phases moved out of PENDING
// (dispatched or skipped).
func (s *Scheduler) dispatchReady(ctx context.Context, run *runState, results chan<- phaseResult) int {
	if s.gate != nil && !s.gate.Admit() {
		s.logger.Warn("dispatch paused by admission gate",
			slog.String("run_id", run.runID),
			slog.Int("active", len(run.active)),
		)
		return 0
	}

	moved := 0
	for _, id := range s.readyPhases(run) {
		task := s.task(id)

		if run.skipSet[id] {
			s.markSkipped(ctx, run, id, ReasonSkipRequested)
			moved++
			continue
		}
		if s.budgetHook != nil && !s.budgetHook(ctx, task) {
			s.markSkipped(ctx, run, id, ReasonBudgetDenied)
			moved++
			continue
		}

		if !s.resources.CanAllocate(id, task.ResourceRequirement) {
			// Soft condition: defer until resources free up.
			continue
		}
		if err := s.resources.Acquire(ctx, id, task.ResourceRequirement); err != nil {
			if errors.Is(err, resource.ErrBudgetExceeded) {
				continue
			}
			// Context canceled while waiting for a slot.
			return moved
		}

		run.active[id] = true
		s.setStatus(id, StatusRunning)
		moved++

		go func(t *PhaseTask) {
			results <- s.executePhase(ctx, run.runID, t)
		}(task)
	}

	return moved
}

// readyPhases returns dispatchable phases sorted by priority then
// efficiency (higher first).
func (s *Scheduler) readyPhases(run *runState) []string {
	ready := s.graph.ReadyPhases(run.completed)

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]string, 0, len(ready))
	for _, id := range ready {
		if run.active[id] || run.skipped[id] {
			continue
		}
		if _, failed := run.failed[id]; failed {
			continue
		}
		// Dependencies declared but never registered as tasks are not
		// dispatchable; their dependents starve, which the loop reports.
		if _, known := s.tasks[id]; !known {
			continue
		}
		candidates = append(candidates, id)
		s.statuses[id] = StatusReady
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := s.tasks[candidates[i]], s.tasks[candidates[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.efficiency() > b.efficiency()
	})

	return candidates
}

// executePhase runs one work callback under its timeout with observability.
func (s *Scheduler) executePhase(ctx context.Context, runID string, task *PhaseTask) phaseResult {
	ctx, span := tracer.Start(ctx, "forge.Phase",
		trace.WithAttributes(
			attribute.String("forge.phase", task.ID),
			attribute.String("forge.run_id", runID),
			attribute.String("forge.priority", task.Priority.String()),
			attribute.StringSlice("forge.dependencies", task.DependsOn),
		),
	)
	defer span.End()

	if s.activePhases != nil {
		s.activePhases.Add(ctx, 1)
		defer s.activePhases.Add(ctx, -1)
	}

	s.logger.Debug("phase starting",
		slog.String("phase", task.ID),
		slog.String("run_id", runID),
	)

	phaseCtx, cancel := context.WithTimeout(ctx, task.timeout())
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- task.Work(phaseCtx)
	}()

	var res phaseResult
	res.id = task.ID

	select {
	case err := <-done:
		res.duration = time.Since(start)
		if err != nil {
			res.err = err
			res.reason = ReasonExecutionError
		}
	case <-phaseCtx.Done():
		// Timeout outcome is reported in place; the external executor is
		// responsible for actually stopping on context cancellation.
		res.duration = time.Since(start)
		res.err = phaseCtx.Err()
		res.reason = ReasonTimeout
	}

	if s.phaseLatency != nil {
		s.phaseLatency.Record(ctx, res.duration.Seconds(),
			metric.WithAttributes(attribute.String("phase", task.ID)),
		)
	}

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return res
}

// recordOutcome lands one phase result: frees resources, updates status
// sets, emits metrics and notifies the recorder.
func (s *Scheduler) recordOutcome(ctx context.Context, run *runState, res phaseResult) {
	s.resources.Release(res.id)
	delete(run.active, res.id)
	run.durations[res.id] = res.duration

	outcome := Outcome{
		RunID:    run.runID,
		PhaseID:  res.id,
		Duration: res.duration,
		Err:      res.err,
		Reason:   res.reason,
	}

	if res.err != nil {
		run.failed[res.id] = res.reason
		s.setStatus(res.id, StatusFailed)
		outcome.Status = StatusFailed

		if s.phaseFailures != nil {
			s.phaseFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("reason", res.reason)),
			)
		}
		s.logger.Error("phase failed",
			slog.String("phase", res.id),
			slog.String("run_id", run.runID),
			slog.String("reason", res.reason),
			slog.Duration("duration", res.duration),
			slog.String("error", res.err.Error()),
		)
	} else {
		run.completed[res.id] = true
		s.setStatus(res.id, StatusCompleted)
		outcome.Status = StatusCompleted

		if s.phaseSuccesses != nil {
			s.phaseSuccesses.Add(ctx, 1)
		}
		s.logger.Info("phase completed",
			slog.String("phase", res.id),
			slog.String("run_id", run.runID),
			slog.Duration("duration", res.duration),
		)
	}

	s.notifyRecorder(ctx, outcome)
}

// markSkipped records a skip outcome without consuming resources.
func (s *Scheduler) markSkipped(ctx context.Context, run *runState, id, reason string) {
	run.skipped[id] = true
	s.setStatus(id, StatusSkipped)

	if s.phasesSkipped != nil {
		s.phasesSkipped.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)),
		)
	}
	s.logger.Info("phase skipped",
		slog.String("phase", id),
		slog.String("run_id", run.runID),
		slog.String("reason", reason),
	)

	s.notifyRecorder(ctx, Outcome{RunID: run.runID, PhaseID: id, Status: StatusSkipped, Reason: reason})
}

// notifyRecorder delivers an outcome to the integration sink. Recorder
// panics are contained here: telemetry must never crash phase execution.
func (s *Scheduler) notifyRecorder(ctx context.Context, outcome Outcome) {
	if s.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("outcome recorder panicked",
				slog.String("phase", outcome.PhaseID),
				slog.Any("panic", r),
			)
		}
	}()
	s.recorder.RecordPhaseOutcome(ctx, outcome)
}

func (s *Scheduler) task(id string) *PhaseTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

func (s *Scheduler) setStatus(id string, status PhaseStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
}

// buildResult assembles the run summary and metrics.
func (s *Scheduler) buildResult(run *runState, elapsed time.Duration) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &Result{
		RunID:   run.runID,
		Failed:  make(map[string]string, len(run.failed)),
		Starved: run.starved,
	}

	var baseline time.Duration
	for id, task := range s.tasks {
		if run.skipped[id] {
			continue
		}
		baseline += task.EstimatedDuration
	}

	for id := range run.completed {
		result.Completed = append(result.Completed, id)
	}
	for id, reason := range run.failed {
		result.Failed[id] = reason
	}
	for id := range run.skipped {
		result.Skipped = append(result.Skipped, id)
	}
	sort.Strings(result.Completed)
	sort.Strings(result.Skipped)

	terminal := len(run.completed) + len(run.failed) + len(run.skipped)
	result.Success = len(result.Failed) == 0 && !run.starved && terminal == len(s.tasks)

	metrics := ScheduleMetrics{
		TotalPhases:        len(s.tasks),
		CompletedPhases:    len(run.completed),
		FailedPhases:       len(run.failed),
		SkippedPhases:      len(run.skipped),
		ExecutionTime:      elapsed,
		SequentialBaseline: baseline,
		PhaseDurations:     run.durations,
	}
	if elapsed > 0 && baseline > 0 {
		metrics.ParallelSpeedup = baseline.Seconds() / elapsed.Seconds()
		metrics.ResourceUtilization = baseline.Seconds() / elapsed.Seconds()
	}
	result.Metrics = metrics

	return result
}

// Reset clears all registered phases and statuses so the scheduler can be
// reused for a fresh run. Fails if a run is in progress.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunInProgress
	}

	s.graph = graph.New()
	s.tasks = make(map[string]*PhaseTask)
	s.statuses = make(map[string]PhaseStatus)
	return nil
}
