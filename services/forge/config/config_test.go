// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() must validate: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  max_concurrent: 8
  resource_budget: 2.0
breaker:
  open_after: 5
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Breaker.OpenAfter != 5 {
		t.Errorf("OpenAfter = %d, want 5", cfg.Breaker.OpenAfter)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep defaults.
	if cfg.Health.MinSamplesForTrend != 5 {
		t.Errorf("MinSamplesForTrend = %d, want default 5", cfg.Health.MinSamplesForTrend)
	}
}

func TestLoad_ParsesDurations(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  default_timeout: 15m
breaker:
  evaluation_interval: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Scheduler.DefaultTimeout.Std(); got != 15*time.Minute {
		t.Errorf("DefaultTimeout = %v, want 15m", got)
	}
	if got := cfg.Breaker.EvaluationInterval.Std(); got != 45*time.Second {
		t.Errorf("EvaluationInterval = %v, want 45s", got)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  default_timeout: soon\n")

	if _, err := Load(path); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Load() error = %v, want ErrConfigInvalid", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Load() error = %v, want ErrConfigNotFound", err)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "scheduler: [not a map")

	_, err := Load(path)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Load() error = %v, want ErrConfigInvalid", err)
	}
}

func TestLoad_ValidationRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero concurrency", "scheduler:\n  max_concurrent: 0"},
		{"negative budget", "scheduler:\n  resource_budget: -1"},
		{"bad log level", "logging:\n  level: loud"},
		{"score floor out of range", "breaker:\n  score_floor: 1.5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("Load() error = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestWatch_DeliversReload(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan Config, 1)
	err := Watch(ctx, path, nil, func(cfg Config) {
		select {
		case reloads <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloads:
		if cfg.Logging.Level != "warn" {
			t.Errorf("reloaded Level = %q, want warn", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not delivered")
	}
}

func TestWatch_NilCallback(t *testing.T) {
	err := Watch(context.Background(), "whatever.yaml", nil, nil)
	if !errors.Is(err, ErrNilCallback) {
		t.Errorf("Watch() error = %v, want ErrNilCallback", err)
	}
}
