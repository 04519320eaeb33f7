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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/envfile"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

func runEnvCheck(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		root, err := a.projectRoot()
		if err != nil {
			return err
		}
		if !renderEnvReport(root, envfile.Check(root)) {
			ux.Tip("Run 'zephyr-forge env:generate' to write fresh files")
			return silent("env files are invalid")
		}
		return nil
	})
}

func runEnvGenerate(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		root, err := a.projectRoot()
		if err != nil {
			return err
		}
		_, err = generateEnv(root, a.cfg.Stack, envForce, envShow)
		return err
	})
}

// renderEnvReport prints one line per env file and its problems. It
// returns whether every file is valid.
func renderEnvReport(root string, report *envfile.Report) bool {
	for _, f := range report.Files {
		rel := relPath(root, f.Path)
		switch {
		case f.Missing:
			ux.Warning(rel + " is missing")
		case len(f.Problems) > 0:
			ux.Warning(fmt.Sprintf("%s has %d problem(s)", rel, len(f.Problems)))
			items := make([]string, 0, len(f.Problems))
			for _, p := range f.Problems {
				items = append(items, p.String())
			}
			ux.List(items...)
		default:
			ux.Success(rel + " is valid")
		}
	}
	return report.Valid()
}

// generateEnv writes the env files from the stack configuration.
func generateEnv(root string, stack registry.Config, overwrite, show bool) (*envfile.GenerateResult, error) {
	result, err := envfile.Generate(root, envfile.FromRegistry(stack), envfile.GenerateOptions{Overwrite: overwrite})
	if err != nil {
		return result, fmt.Errorf("generate env files: %w", err)
	}

	for _, p := range result.Written {
		ux.Success("Wrote " + relPath(root, p))
	}
	for _, p := range result.Skipped {
		ux.Info("Kept existing " + relPath(root, p))
	}
	if len(result.Skipped) > 0 && !overwrite {
		ux.Tip("Pass --force to overwrite existing files")
	}
	if show {
		for _, f := range result.Files {
			ux.Box(f.Path, strings.TrimRight(f.Preview(), "\n"))
		}
	}
	return result, nil
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
