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
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor save bursts into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file on change and delivers each valid new
// config to onReload. Invalid intermediate states are logged and
// skipped; the previous config stays in force.
//
// Description:
//
//	Watches the file's parent directory, because editors typically
//	rename-and-replace rather than write in place. Returns once the
//	watcher is installed; delivery happens on a background goroutine
//	until ctx is canceled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onReload func(Config)) error {
	if onReload == nil {
		return ErrNilCallback
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	go func() {
		defer func() { _ = watcher.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(reloadDebounce)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.LogAttrs(ctx, slog.LevelWarn, "config watcher error",
					slog.String("error", err.Error()))

			case <-pending:
				pending = nil
				cfg, err := Load(target)
				if err != nil {
					logger.LogAttrs(ctx, slog.LevelWarn, "config reload rejected",
						slog.String("path", target),
						slog.String("error", err.Error()))
					continue
				}
				logger.LogAttrs(ctx, slog.LevelInfo, "config reloaded",
					slog.String("path", target))
				onReload(cfg)
			}
		}
	}()

	return nil
}
