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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/scheduler"
)

// maxPlanFileSize bounds plan files (1MB).
const maxPlanFileSize = 1024 * 1024

var errEmptyPlan = errors.New("plan contains no phases")

// planPhase is one phase declaration in a plan file.
type planPhase struct {
	ID                  string          `yaml:"id"`
	Name                string          `yaml:"name"`
	Priority            string          `yaml:"priority"`
	DependsOn           []string        `yaml:"depends_on"`
	EstimatedDuration   config.Duration `yaml:"estimated_duration"`
	ResourceRequirement float64         `yaml:"resource_requirement"`
	Timeout             config.Duration `yaml:"timeout"`
	MaxRetries          int             `yaml:"max_retries"`

	// Command runs through the shell. When empty the phase simulates
	// work by sleeping for Sleep (or a small default).
	Command string          `yaml:"command"`
	Sleep   config.Duration `yaml:"sleep"`
}

// plan is the root of a plan file.
type plan struct {
	Phases []planPhase `yaml:"phases"`
}

// loadPlan reads and parses a plan file.
func loadPlan(path string) (plan, error) {
	var p plan

	info, err := os.Stat(path)
	if err != nil {
		return p, fmt.Errorf("plan file: %w", err)
	}
	if info.Size() > maxPlanFileSize {
		return p, fmt.Errorf("plan file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read plan: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse plan: %w", err)
	}
	if len(p.Phases) == 0 {
		return p, errEmptyPlan
	}
	return p, nil
}

// tasks converts plan phases to scheduler tasks.
func (p plan) tasks() []*scheduler.PhaseTask {
	out := make([]*scheduler.PhaseTask, 0, len(p.Phases))
	for _, ph := range p.Phases {
		out = append(out, &scheduler.PhaseTask{
			ID:                  ph.ID,
			Name:                ph.Name,
			Priority:            parsePriority(ph.Priority),
			DependsOn:           ph.DependsOn,
			EstimatedDuration:   ph.EstimatedDuration.Std(),
			ResourceRequirement: ph.ResourceRequirement,
			Timeout:             ph.Timeout.Std(),
			MaxRetries:          ph.MaxRetries,
			Work:                ph.work(),
		})
	}
	return out
}

// work builds the phase's work callback: a shell command when declared,
// a sleep otherwise.
func (ph planPhase) work() scheduler.WorkFunc {
	if ph.Command != "" {
		command := ph.Command
		return func(ctx context.Context) error {
			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		}
	}

	sleep := ph.Sleep.Std()
	if sleep <= 0 {
		sleep = 10 * time.Millisecond
	}
	return func(ctx context.Context) error {
		select {
		case <-time.After(sleep):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parsePriority maps a plan string to a scheduler priority. Unknown
// values fall back to normal.
func parsePriority(s string) scheduler.Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return scheduler.PriorityCritical
	case "high":
		return scheduler.PriorityHigh
	case "low":
		return scheduler.PriorityLow
	default:
		return scheduler.PriorityNormal
	}
}
