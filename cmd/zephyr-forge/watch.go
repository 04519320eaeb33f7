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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce groups the bursts of events editors produce on save.
const defaultDebounce = 500 * time.Millisecond

// fileWatcher reports changes to a fixed set of files.
//
// Editors often replace files by rename, which drops a watch placed on the
// file itself, so the parent directories are watched and events are
// filtered by path.
type fileWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	debounce time.Duration
	onChange func(changed []string)
	logger   *slog.Logger
}

// newFileWatcher starts watching the directories of paths. Paths whose
// directory does not exist are skipped with a warning.
func newFileWatcher(paths []string, debounce time.Duration, onChange func(changed []string), logger *slog.Logger) (*fileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &fileWatcher{
		watcher:  watcher,
		files:    make(map[string]struct{}, len(paths)),
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		w.files[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if _, seen := dirs[dir]; seen {
			continue
		}
		dirs[dir] = struct{}{}
		if _, err := os.Stat(dir); err != nil {
			logger.Warn("[Watch] directory not found, skipping", "path", dir)
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logger.Warn("[Watch] failed to watch directory", "path", dir, "error", err)
		}
	}
	return w, nil
}

// Run delivers debounced changes until ctx is done, then closes the watcher.
func (w *fileWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			pending[filepath.Clean(event.Name)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			w.onChange(changed)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("[Watch] watcher error", "error", err)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *fileWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	_, ok := w.files[filepath.Clean(event.Name)]
	return ok
}
