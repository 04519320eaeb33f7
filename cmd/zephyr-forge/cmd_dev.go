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
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/envfile"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/project"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

// devEnv is what the dev workflow operates on.
type devEnv struct {
	Orch        orchestrator.Orchestrator
	Prompter    ux.Prompter
	Root        string
	ComposeFile string
	Stack       registry.Config
	Registry    *registry.Registry
	Logger      *slog.Logger
}

// devOptions mirrors the dev command flags.
type devOptions struct {
	Mode     string
	Restart  bool
	Watch    bool
	Yes      bool
	Debounce time.Duration
}

func runDev(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return withApp(func(a *app) error {
			ctx := cmd.Context()
			root, err := a.projectRoot()
			if err != nil {
				return err
			}
			if err := checkTopology(ctx, a); err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx, newUXSink(verbose))
			if err != nil {
				return err
			}

			return runDevFlow(ctx, devEnv{
				Orch:        orch,
				Prompter:    prompter,
				Root:        root,
				ComposeFile: a.cfg.Project.ComposeFile,
				Stack:       a.cfg.Stack,
				Registry:    a.reg,
				Logger:      a.logger.Slog(),
			}, devOptions{
				Mode:    initMode,
				Restart: devRestart,
				Watch:   !devNoWatch,
				Yes:     assumeYes,
			})
		})
	})
}

// runDevFlow checks the project, brings the stack to a healthy state and,
// when watching, re-checks health whenever the compose or env files change
// until ctx is done. Services are left running on exit.
func runDevFlow(ctx context.Context, env devEnv, opts devOptions) error {
	ux.Title("≋ Zephyr dev")

	if missing := project.MissingFiles(env.Root); len(missing) > 0 {
		ux.ErrorBox("Project files missing", strings.Join(missing, "\n"))
		return silent("required project files are missing")
	}
	if err := ensureEnv(env); err != nil {
		return err
	}

	status := env.Orch.Status(ctx)
	renderStatus(status)

	switch {
	case status.NeedsInit:
		mode, err := resolveMode(opts.Mode, env.Prompter, defaultMode(status))
		if err != nil {
			return err
		}
		if err := confirmMode(mode, env.Prompter, opts.Yes); err != nil {
			return err
		}
		if _, err := initialize(ctx, env.Orch, mode); err != nil {
			return err
		}
	case opts.Restart:
		if err := env.Orch.Stop(ctx); err != nil {
			return err
		}
		if err := env.Orch.Start(ctx); err != nil {
			return err
		}
		ux.Success("Services restarted")
	default:
		if err := env.Orch.Start(ctx); err != nil {
			return err
		}
	}

	if err := renderHealth(env.Orch.Health(ctx)); err != nil {
		return err
	}
	printURLs(env.Stack, env.Registry)

	if !opts.Watch {
		return nil
	}
	return watchStack(ctx, env, opts.Debounce)
}

// ensureEnv validates the env files, offering to generate missing ones.
func ensureEnv(env devEnv) error {
	report := envfile.Check(env.Root)
	if report.Valid() {
		return nil
	}

	missing := false
	for _, f := range report.Files {
		if f.Missing {
			missing = true
		}
	}
	if missing {
		ok, err := env.Prompter.Confirm("Some .env files are missing. Generate them now?", true)
		if err != nil && !errors.Is(err, ux.ErrNotInteractive) {
			return err
		}
		if !ok {
			renderEnvReport(env.Root, report)
			return silent("env files are missing")
		}
		if _, err := generateEnv(env.Root, env.Stack, false, false); err != nil {
			return err
		}
		report = envfile.Check(env.Root)
	}

	if !renderEnvReport(env.Root, report) {
		ux.Tip("Fix the values above or run 'zephyr-forge env:generate --force'")
		return silent("env files are invalid")
	}
	return nil
}

// watchPaths are the files whose change triggers a health check.
func watchPaths(env devEnv) []string {
	return []string{
		filepath.Join(env.Root, env.ComposeFile),
		filepath.Join(env.Root, envfile.WebPath),
		filepath.Join(env.Root, envfile.DBPath),
	}
}

// watchStack blocks until ctx is done.
func watchStack(ctx context.Context, env devEnv, debounce time.Duration) error {
	w, err := newFileWatcher(watchPaths(env), debounce, func(changed []string) {
		rel := make([]string, 0, len(changed))
		for _, p := range changed {
			rel = append(rel, relPath(env.Root, p))
		}
		ux.Info(fmt.Sprintf("Changed: %s, re-checking health", strings.Join(rel, ", ")))
		_ = renderHealth(env.Orch.Health(ctx))
	}, env.Logger)
	if err != nil {
		return fmt.Errorf("watch files: %w", err)
	}

	ux.Muted("Watching compose and .env files. Press Ctrl+C to exit; services keep running.")
	w.Run(ctx)
	ux.Info("Stopped watching. Run 'zephyr-forge stop' to stop the services.")
	return nil
}
