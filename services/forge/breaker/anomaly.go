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
	"fmt"
	"sort"
	"sync"
	"time"
)

// AnomalyKind classifies a detected anomaly.
type AnomalyKind string

const (
	// AnomalyTokenSpike marks token usage far above the recent median.
	AnomalyTokenSpike AnomalyKind = "token_spike"

	// AnomalyDuration marks a phase duration far above the trailing mean.
	AnomalyDuration AnomalyKind = "duration_anomaly"

	// AnomalyFailureRate marks a failure rate breach over the window.
	AnomalyFailureRate AnomalyKind = "failure_rate"
)

// Anomaly is one detected deviation.
type Anomaly struct {
	Kind       AnomalyKind `json:"kind"`
	PhaseID    string      `json:"phase_id,omitempty"`
	Observed   float64     `json:"observed"`
	Threshold  float64     `json:"threshold"`
	DetectedAt time.Time   `json:"detected_at"`
}

// Detail renders the anomaly for logs and alerts.
func (a Anomaly) Detail() string {
	return fmt.Sprintf("%s: observed %.2f over threshold %.2f (phase %q)",
		a.Kind, a.Observed, a.Threshold, a.PhaseID)
}

// DetectorConfig tunes anomaly thresholds.
type DetectorConfig struct {
	// TokenSpikeFactor flags token usage above factor × rolling median.
	// Default: 3
	TokenSpikeFactor float64

	// DurationFactor flags durations above factor × trailing mean.
	// Default: 3
	DurationFactor float64

	// FailureRateThreshold flags the failure rate over the outcome
	// window. Default: 0.5
	FailureRateThreshold float64

	// WindowSize bounds the rolling observation windows. Default: 20
	WindowSize int

	// MinObservations is the warm-up count before any detection fires.
	// Default: 5
	MinObservations int
}

// DefaultDetectorConfig returns production defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TokenSpikeFactor:     3,
		DurationFactor:       3,
		FailureRateThreshold: 0.5,
		WindowSize:           20,
		MinObservations:      5,
	}
}

// Detector watches per-phase token usage, durations, and outcomes for
// deviations. Detection compares each new observation against the window
// BEFORE admitting it, so a single spike cannot hide inside its own
// baseline.
//
// # Thread Safety
//
// Detector is safe for concurrent use.
type Detector struct {
	cfg DetectorConfig

	mu        sync.Mutex
	tokens    []float64
	durations []float64
	failures  []bool
	pending   int
	resolved  int
}

// NewDetector creates a Detector. Zero-valued config fields fall back to
// defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if cfg.TokenSpikeFactor <= 0 {
		cfg.TokenSpikeFactor = def.TokenSpikeFactor
	}
	if cfg.DurationFactor <= 0 {
		cfg.DurationFactor = def.DurationFactor
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = def.FailureRateThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = def.MinObservations
	}
	return &Detector{cfg: cfg}
}

// ObserveTokens records a phase's token usage and returns a token-spike
// anomaly if it exceeds the configured multiple of the rolling median.
func (d *Detector) ObserveTokens(phaseID string, tokens int) *Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	var found *Anomaly
	if len(d.tokens) >= d.cfg.MinObservations {
		med := median(d.tokens)
		threshold := med * d.cfg.TokenSpikeFactor
		if med > 0 && float64(tokens) > threshold {
			found = &Anomaly{
				Kind:       AnomalyTokenSpike,
				PhaseID:    phaseID,
				Observed:   float64(tokens),
				Threshold:  threshold,
				DetectedAt: time.Now().UTC(),
			}
			d.pending++
		}
	}

	d.tokens = push(d.tokens, float64(tokens), d.cfg.WindowSize)
	return found
}

// ObserveDuration records a phase's wall-clock duration and returns a
// duration anomaly if it exceeds the configured multiple of the trailing
// mean.
func (d *Detector) ObserveDuration(phaseID string, dur time.Duration) *Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	secs := dur.Seconds()
	var found *Anomaly
	if len(d.durations) >= d.cfg.MinObservations {
		m := mean(d.durations)
		threshold := m * d.cfg.DurationFactor
		if m > 0 && secs > threshold {
			found = &Anomaly{
				Kind:       AnomalyDuration,
				PhaseID:    phaseID,
				Observed:   secs,
				Threshold:  threshold,
				DetectedAt: time.Now().UTC(),
			}
			d.pending++
		}
	}

	d.durations = push(d.durations, secs, d.cfg.WindowSize)
	return found
}

// ObserveOutcome records a phase success/failure and returns a
// failure-rate anomaly when the windowed rate breaches the threshold.
func (d *Detector) ObserveOutcome(failed bool) *Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures = append(d.failures, failed)
	if len(d.failures) > d.cfg.WindowSize {
		d.failures = d.failures[1:]
	}
	if len(d.failures) < d.cfg.MinObservations {
		return nil
	}

	count := 0
	for _, f := range d.failures {
		if f {
			count++
		}
	}
	rate := float64(count) / float64(len(d.failures))
	if rate <= d.cfg.FailureRateThreshold {
		return nil
	}

	d.pending++
	return &Anomaly{
		Kind:       AnomalyFailureRate,
		Observed:   rate,
		Threshold:  d.cfg.FailureRateThreshold,
		DetectedAt: time.Now().UTC(),
	}
}

// Resolve marks n pending anomalies as handled.
func (d *Detector) Resolve(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > d.pending {
		n = d.pending
	}
	d.pending -= n
	d.resolved += n
}

// Counters returns pending and resolved alert counts for health
// snapshots.
func (d *Detector) Counters() (pending, resolved int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.resolved
}

// push appends v to window, dropping the oldest entry past size.
func push(window []float64, v float64, size int) []float64 {
	window = append(window, v)
	if len(window) > size {
		window = window[1:]
	}
	return window
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
