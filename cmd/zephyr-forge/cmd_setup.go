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
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/config"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/envfile"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/project"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

// =============================================================================
// setup
// =============================================================================

func runSetup(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return withApp(func(a *app) error {
			ctx := cmd.Context()
			ux.Title("≋ Zephyr setup")

			reqs := project.NewChecker(a.runner, a.rt, a.logger.Slog()).Check(ctx)
			if !renderRequirements(reqs) {
				return silent("requirements are not met")
			}

			root, err := a.projectRoot()
			if err != nil {
				return err
			}
			ux.KeyValue("Project", root)
			if missing := project.MissingFiles(root); len(missing) > 0 {
				ux.ErrorBox("Project files missing", strings.Join(missing, "\n"))
				return silent("required project files are missing")
			}

			if envForce || !envfile.Exist(root) {
				if _, err := generateEnv(root, a.cfg.Stack, envForce, false); err != nil {
					return err
				}
			} else {
				ux.Info("Env files already present")
			}

			if setupSkipRun {
				ux.Tip("Run 'zephyr-forge dev' to start the stack")
				return nil
			}

			if err := checkTopology(ctx, a); err != nil {
				return err
			}
			sink := newUXSink(verbose)
			orch, err := a.orchestrator(ctx, sink)
			if err != nil {
				return err
			}

			status := orch.Status(ctx)
			mode, err := resolveMode(initMode, prompter, orchestrator.Fresh)
			if err != nil {
				return err
			}
			// Nothing to lose on a first run.
			if defaultMode(status) != orchestrator.Fresh {
				if err := confirmMode(mode, prompter, assumeYes); err != nil {
					return err
				}
			}
			if _, err := initialize(ctx, orch, mode); err != nil {
				return err
			}
			summarizeWarnings(sink)
			printURLs(a.cfg.Stack, a.reg)
			ux.Tip("Run 'pnpm dev' to start the web and API servers")
			return nil
		})
	})
}

// renderRequirements prints the tool table and any failures. It returns
// whether every requirement is met.
func renderRequirements(report *project.Report) bool {
	rows := make([][]string, 0, len(report.Results)+1)
	for _, res := range report.Results {
		if res.Installed {
			rows = append(rows, []string{res.Name, ux.StatusCell(ux.IconSuccess, res.Version)})
		} else {
			rows = append(rows, []string{res.Name, ux.StatusCell(ux.IconError, "not installed")})
		}
	}
	switch {
	case !report.DaemonChecked:
		rows = append(rows, []string{"Docker daemon", ux.StatusCell(ux.IconPending, "skipped")})
	case report.DaemonReachable:
		rows = append(rows, []string{"Docker daemon", ux.StatusCell(ux.IconSuccess, "reachable")})
	default:
		rows = append(rows, []string{"Docker daemon", ux.StatusCell(ux.IconError, "unreachable")})
	}
	ux.Table([]string{"REQUIREMENT", "STATUS"}, rows)

	for _, res := range report.Results {
		if res.Err != nil {
			ux.ErrorBox(res.Err.Message, res.Err.FullError())
		}
	}
	if report.DaemonErr != nil {
		ux.ErrorBox(report.DaemonErr.Message, report.DaemonErr.FullError())
	}
	return report.OK()
}

// =============================================================================
// doctor
// =============================================================================

func runDoctor(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx := cmd.Context()
		problems := 0

		ux.Title("Requirements")
		reqs := project.NewChecker(a.runner, a.rt, a.logger.Slog()).Check(ctx)
		if !renderRequirements(reqs) {
			problems += len(reqs.Errors)
		}

		ux.Title("Project")
		root, err := a.projectRoot()
		if err != nil {
			ux.Error(err.Error())
			return silent("project root not found")
		}
		ux.KeyValue("Root", root)
		for _, m := range project.MissingFiles(root) {
			ux.Error(m + " is missing")
			problems++
		}

		ux.Title("Environment files")
		if !renderEnvReport(root, envfile.Check(root)) {
			problems++
		}

		ux.Title("Compose topology")
		composeFile := filepath.Join(root, a.cfg.Project.ComposeFile)
		topo, err := registry.VerifyTopology(ctx, composeFile, a.reg)
		switch {
		case err != nil:
			ux.Error(err.Error())
			problems++
		case renderTopology(topo) != nil:
			problems++
		default:
			ux.Success(relPath(root, composeFile) + " declares every service")
		}

		if reqs.DaemonReachable {
			ux.Title("Ports")
			orch, err := a.orchestrator(ctx, orchestrator.NopSink{})
			if err != nil {
				return err
			}
			conflicts := portConflicts(orch.Status(ctx), a.cfg.Stack)
			for _, c := range conflicts {
				ux.Warning(c)
			}
			if len(conflicts) == 0 {
				ux.Success("Service ports are free or owned by running services")
			}
			problems += len(conflicts)
		}

		if problems > 0 {
			return silent(fmt.Sprintf("doctor found %d problem(s)", problems))
		}
		ux.Success("No problems found")
		return nil
	})
}

// servicePorts maps each registry service to the host ports it publishes.
func servicePorts(stack registry.Config) map[string][]int {
	return map[string][]int{
		registry.Postgres: {stack.Postgres.Port},
		registry.Redis:    {stack.Redis.Port},
		registry.MinIO:    {stack.MinIO.Port, stack.MinIO.ConsolePort},
	}
}

// portConflicts lists ports taken by something other than the stack. Ports
// of running services are expected to be busy and are skipped.
func portConflicts(status *orchestrator.OrchestrationResult, stack registry.Config) []string {
	ports := servicePorts(stack)
	var out []string
	for _, sr := range status.Services() {
		if sr.Container == orchestrator.ContainerRunning {
			continue
		}
		for _, p := range project.PortsInUse(ports[sr.Service]...) {
			out = append(out, fmt.Sprintf("port %d needed by %s is already in use", p, sr.Service))
		}
	}
	return out
}

// =============================================================================
// config:init
// =============================================================================

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := config.WriteDefault(path, envForce); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			ux.Warning(path + " already exists")
			ux.Tip("Pass --force to overwrite it")
			return silent(err.Error())
		}
		return err
	}
	ux.Success("Wrote " + path)
	return nil
}
