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
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

// prompter asks mode and confirmation questions. Replaced in tests.
var prompter ux.Prompter = ux.HuhPrompter{}

// =============================================================================
// status / health
// =============================================================================

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx := cmd.Context()
		orch, err := a.orchestrator(ctx, newUXSink(verbose))
		if err != nil {
			return err
		}

		var result *orchestrator.OrchestrationResult
		_ = ux.WithSpinner("Inspecting containers...", func() error {
			result = orch.Status(ctx)
			return nil
		})
		renderStatus(result)
		return nil
	})
}

func runHealth(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx := cmd.Context()
		orch, err := a.orchestrator(ctx, newUXSink(verbose))
		if err != nil {
			return err
		}

		var report *orchestrator.HealthReport
		_ = ux.WithSpinner("Checking services...", func() error {
			report = orch.Health(ctx)
			return nil
		})
		return renderHealth(report)
	})
}

// =============================================================================
// init / start / stop
// =============================================================================

func runInit(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return withApp(func(a *app) error {
			ctx := cmd.Context()
			if err := checkTopology(ctx, a); err != nil {
				return err
			}
			sink := newUXSink(verbose)
			orch, err := a.orchestrator(ctx, sink)
			if err != nil {
				return err
			}

			mode, err := resolveMode(initMode, prompter, defaultMode(orch.Status(ctx)))
			if err != nil {
				return err
			}
			if err := confirmMode(mode, prompter, assumeYes); err != nil {
				return err
			}
			if _, err := initialize(ctx, orch, mode); err != nil {
				return err
			}
			summarizeWarnings(sink)
			printURLs(a.cfg.Stack, a.reg)
			return nil
		})
	})
}

func runStart(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return withApp(func(a *app) error {
			ctx := cmd.Context()
			orch, err := a.orchestrator(ctx, newUXSink(verbose))
			if err != nil {
				return err
			}
			err = ux.WithSpinner("Starting services...", func() error {
				return orch.Start(ctx)
			})
			if err != nil {
				return err
			}
			ux.Success("Services started")
			ux.Tip("Run 'zephyr-forge health' once they have had time to boot")
			return nil
		})
	})
}

func runStop(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return withApp(func(a *app) error {
			ctx := cmd.Context()
			orch, err := a.orchestrator(ctx, newUXSink(verbose))
			if err != nil {
				return err
			}
			err = ux.WithSpinner("Stopping services...", func() error {
				return orch.Stop(ctx)
			})
			if err != nil {
				return err
			}
			ux.Success("Services stopped, data volumes kept")
			return nil
		})
	})
}

func runLogs(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx := cmd.Context()
		orch, err := a.orchestrator(ctx, orchestrator.NopSink{})
		if err != nil {
			return err
		}
		err = orch.Logs(ctx, args[0], logsFollow, logsTail, ux.Stdout())
		if logsFollow && errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// =============================================================================
// Helpers
// =============================================================================

// defaultMode is Fresh when nothing exists yet, otherwise UseExisting.
func defaultMode(status *orchestrator.OrchestrationResult) orchestrator.OperationMode {
	if status != nil && len(status.Order) > 0 && len(status.Missing) == len(status.Order) {
		return orchestrator.Fresh
	}
	return orchestrator.UseExisting
}

// resolveMode parses flag, or asks p when flag is empty. A non-interactive
// terminal gets def.
func resolveMode(flag string, p ux.Prompter, def orchestrator.OperationMode) (orchestrator.OperationMode, error) {
	if flag != "" {
		return orchestrator.ParseMode(flag)
	}

	modes := orchestrator.Modes()
	options := make([]ux.Option, 0, len(modes))
	for _, m := range modes {
		options = append(options, ux.Option{
			Label: fmt.Sprintf("%-9s %s", m.String(), m.Description()),
			Value: m.String(),
		})
	}

	choice, err := p.Select("How should the services be initialized?", options, def.String())
	if errors.Is(err, ux.ErrNotInteractive) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return orchestrator.ParseMode(choice)
}

// confirmMode asks before a Fresh run deletes data volumes.
func confirmMode(mode orchestrator.OperationMode, p ux.Prompter, yes bool) error {
	if mode != orchestrator.Fresh || yes {
		return nil
	}
	ok, err := p.Confirm("Fresh mode removes every container and data volume. Continue?", false)
	if errors.Is(err, ux.ErrNotInteractive) {
		return errors.New("fresh mode deletes data volumes; pass --yes to confirm")
	}
	if err != nil {
		return err
	}
	if !ok {
		return silent("aborted")
	}
	return nil
}

// initialize runs Initialize and reports its outcome.
func initialize(ctx context.Context, orch orchestrator.Orchestrator, mode orchestrator.OperationMode) (*orchestrator.OrchestrationResult, error) {
	ux.Title("Initializing services (" + mode.String() + ")")
	result, err := orch.Initialize(ctx, mode)
	if err != nil {
		return result, renderInitError(err)
	}
	if !result.OverallHealthy {
		for _, issue := range result.Issues {
			ux.Warning(issue)
		}
		return result, silent("some services are not healthy")
	}

	msg := fmt.Sprintf("Services initialized in %s", result.Duration.Round(100*time.Millisecond))
	if result.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", result.Attempts)
	}
	ux.Success(msg)
	return result, nil
}

// summarizeWarnings repeats the bring-up warnings once the run is over.
func summarizeWarnings(sink *uxSink) {
	warnings := sink.Warnings()
	if len(warnings) == 0 {
		return
	}
	ux.WarningBox(fmt.Sprintf("%d warning(s) during bring-up", len(warnings)), strings.Join(warnings, "\n"))
}

// checkTopology verifies the compose file declares every managed service.
func checkTopology(ctx context.Context, a *app) error {
	root, err := a.projectRoot()
	if err != nil {
		return err
	}
	report, err := registry.VerifyTopology(ctx, filepath.Join(root, a.cfg.Project.ComposeFile), a.reg)
	if err != nil {
		return err
	}
	return renderTopology(report)
}

func renderTopology(report *registry.TopologyReport) error {
	if len(report.Unmanaged) > 0 {
		ux.Muted("Other compose services: " + strings.Join(report.Unmanaged, ", "))
	}
	if report.OK() {
		return nil
	}
	var problems []string
	for _, s := range report.MissingServices {
		problems = append(problems, "missing service "+s)
	}
	problems = append(problems, report.ContainerMismatches...)
	ux.ErrorBox("Compose file does not match the stack", strings.Join(problems, "\n"))
	return silent(fmt.Sprintf("%s: %d topology problem(s)", report.File, len(problems)))
}
