// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the forge configuration file.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
)

// MaxYAMLFileSize is the maximum allowed config file size (1MB).
// Prevents memory issues from oversized or hostile files.
const MaxYAMLFileSize = 1024 * 1024

// validate is the shared validator instance.
var validate = validator.New()

// SchedulerConfig tunes the phase scheduler.
type SchedulerConfig struct {
	// MaxConcurrent bounds simultaneously running phases.
	MaxConcurrent int `yaml:"max_concurrent" validate:"gte=1,lte=256"`

	// ResourceBudget is the fractional budget shared by running phases.
	ResourceBudget float64 `yaml:"resource_budget" validate:"gt=0,lte=16"`

	// DefaultTimeout applies to phases without an explicit timeout.
	DefaultTimeout Duration `yaml:"default_timeout" validate:"gt=0"`

	// Sequential disables concurrent dispatch.
	Sequential bool `yaml:"sequential"`
}

// StateConfig tunes the persistent phase-state store.
type StateConfig struct {
	// Dir is the badger database directory.
	Dir string `yaml:"dir" validate:"required"`

	// InMemory keeps state off disk; for tests and dry runs.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is the value-log garbage collection cadence.
	GCInterval Duration `yaml:"gc_interval" validate:"gte=0"`
}

// HealthConfig tunes trend analysis.
type HealthConfig struct {
	// ImprovementThreshold is the percent change counting as improvement.
	ImprovementThreshold float64 `yaml:"improvement_threshold" validate:"gt=0,lte=100"`

	// DegradationThreshold is the percent change counting as degradation.
	DegradationThreshold float64 `yaml:"degradation_threshold" validate:"gt=0,lte=100"`

	// MinSamplesForTrend gates high-confidence classification.
	MinSamplesForTrend int `yaml:"min_samples_for_trend" validate:"gte=1"`

	// SevereFailureRate is the failure rate treated as critical.
	SevereFailureRate float64 `yaml:"severe_failure_rate" validate:"gt=0,lte=1"`
}

// BreakerConfig tunes the circuit breaker and feedback loop.
type BreakerConfig struct {
	// OpenAfter is consecutive degraded reports before the circuit opens.
	OpenAfter int `yaml:"open_after" validate:"gte=1"`

	// ScoreFloor is the score below which a degraded report counts.
	ScoreFloor float64 `yaml:"score_floor" validate:"gt=0,lt=1"`

	// RecoveryReports closes the circuit from half-open.
	RecoveryReports int `yaml:"recovery_reports" validate:"gte=1"`

	// EvaluationInterval is the health evaluation cadence.
	EvaluationInterval Duration `yaml:"evaluation_interval" validate:"gt=0"`

	// AlertInterval throttles degradation alerts.
	AlertInterval Duration `yaml:"alert_interval" validate:"gt=0"`
}

// BudgetConfig caps run spend.
type BudgetConfig struct {
	// Cap is the spend ceiling in dollars; zero disables the guard.
	Cap float64 `yaml:"cap" validate:"gte=0"`
}

// OpsConfig tunes the operational HTTP surface.
type OpsConfig struct {
	// Addr is the listen address for /healthz, /readyz, /metrics.
	Addr string `yaml:"addr" validate:"required"`
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables the JSON file sink when non-empty.
	Dir string `yaml:"dir"`
}

// Config is the root configuration.
type Config struct {
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	State     StateConfig      `yaml:"state"`
	Health    HealthConfig     `yaml:"health"`
	Breaker   BreakerConfig    `yaml:"breaker"`
	Budget    BudgetConfig     `yaml:"budget"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Ops       OpsConfig        `yaml:"ops"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// Default returns production defaults. A missing config file is not an
// error; the defaults run standalone.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			MaxConcurrent:  4,
			ResourceBudget: 1.0,
			DefaultTimeout: Duration(10 * time.Minute),
		},
		State: StateConfig{
			Dir:        "data/forge-state",
			SyncWrites: true,
			GCInterval: Duration(5 * time.Minute),
		},
		Health: HealthConfig{
			ImprovementThreshold: 10,
			DegradationThreshold: 10,
			MinSamplesForTrend:   5,
			SevereFailureRate:    0.5,
		},
		Breaker: BreakerConfig{
			OpenAfter:          3,
			ScoreFloor:         0.4,
			RecoveryReports:    2,
			EvaluationInterval: Duration(30 * time.Second),
			AlertInterval:      Duration(time.Minute),
		},
		Budget:    BudgetConfig{Cap: 0},
		Telemetry: telemetry.DefaultConfig(),
		Ops:       OpsConfig{Addr: ":8650"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads, parses, and validates a YAML config file. Fields absent
// from the file keep their Default() values.
func Load(path string) (Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if info.Size() > MaxYAMLFileSize {
		return cfg, fmt.Errorf("%w: %d bytes", ErrConfigTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks structural constraints on the config.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return nil
}
