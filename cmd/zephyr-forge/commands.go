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
	"github.com/spf13/cobra"

	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	projectRootFlag  string
	personalityLevel string
	logLevelFlag     string
	driverFlag       string
	verbose          bool

	initMode     string
	assumeYes    bool
	logsFollow   bool
	logsTail     int
	envForce     bool
	envShow      bool
	devRestart   bool
	devNoWatch   bool
	setupSkipRun bool

	rootCmd = &cobra.Command{
		Use:   "zephyr-forge",
		Short: "Set up and run the Zephyr development environment",
		Long: `zephyr-forge brings up the Zephyr development stack (PostgreSQL, Redis and
MinIO behind Docker Compose), runs their init jobs and keeps the .env files
of the monorepo in shape.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Stack ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state of every service container",
		Args:  cobra.NoArgs,
		RunE:  runStatus, // Defined in cmd_stack.go
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Run every readiness check once",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize the services (teardown, network, bring-up, init jobs, health)",
		Long: `Initialize brings every service up in order and waits for it.

Modes:
  fresh     remove containers and volumes, start from scratch
  existing  keep everything, start what is missing
  reinit    recreate containers, keep data volumes
  manual    replace service containers without a full teardown`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start all services without waiting for readiness",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop all services, keeping data volumes",
		Args:  cobra.NoArgs,
		RunE:  runStop,
	}
	logsCmd = &cobra.Command{
		Use:   "logs [service]",
		Short: "Show logs of a service (PostgreSQL, Redis, MinIO or a compose service name)",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}

	// --- Environment files ---
	envCheckCmd = &cobra.Command{
		Use:   "env:check",
		Short: "Validate apps/web/.env and packages/db/.env",
		Args:  cobra.NoArgs,
		RunE:  runEnvCheck, // Defined in cmd_env.go
	}
	envGenerateCmd = &cobra.Command{
		Use:   "env:generate",
		Short: "Write the .env files from the stack configuration",
		Args:  cobra.NoArgs,
		RunE:  runEnvGenerate,
	}

	// --- Workflows ---
	devCmd = &cobra.Command{
		Use:   "dev",
		Short: "Check, initialize or start the stack, then watch it until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runDev, // Defined in cmd_dev.go
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Check requirements, write .env files and initialize the stack",
		Args:  cobra.NoArgs,
		RunE:  runSetup, // Defined in cmd_setup.go
	}
	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose tools, daemon, project files, env files, compose topology and ports",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
	configInitCmd = &cobra.Command{
		Use:   "config:init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.zephyr-forge/config.yaml)")
	pf.StringVar(&projectRootFlag, "project-root", "", "monorepo root (default: search upward from the working directory)")
	pf.StringVar(&personalityLevel, "personality", "", "output style: full, standard, minimal or machine (env ZEPHYR_PERSONALITY)")
	pf.StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&driverFlag, "driver", "", "container engine driver: cli or api")
	pf.BoolVarP(&verbose, "verbose", "v", false, "show container and compose output")

	initCmd.Flags().StringVarP(&initMode, "mode", "m", "", "fresh, existing, reinit or manual (prompted when omitted)")
	initCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVar(&logsTail, "tail", 100, "number of lines to show from the end")

	envGenerateCmd.Flags().BoolVar(&envForce, "force", false, "overwrite existing files")
	envGenerateCmd.Flags().BoolVar(&envShow, "show", false, "print the generated files with secrets redacted")

	devCmd.Flags().StringVarP(&initMode, "mode", "m", "", "mode used when services need initialization")
	devCmd.Flags().BoolVar(&devRestart, "restart", false, "restart services that are already running")
	devCmd.Flags().BoolVar(&devNoWatch, "no-watch", false, "exit after the stack is healthy instead of watching")
	devCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	setupCmd.Flags().StringVarP(&initMode, "mode", "m", "", "initialization mode (default fresh)")
	setupCmd.Flags().BoolVar(&setupSkipRun, "skip-init", false, "only write env files, do not start services")
	setupCmd.Flags().BoolVar(&envForce, "force-env", false, "overwrite existing .env files")
	setupCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	configInitCmd.Flags().BoolVar(&envForce, "force", false, "overwrite an existing config file")

	rootCmd.AddCommand(statusCmd, healthCmd, initCmd, startCmd, stopCmd, logsCmd)
	rootCmd.AddCommand(envCheckCmd, envGenerateCmd)
	rootCmd.AddCommand(devCmd, setupCmd, doctorCmd, configInitCmd)
}
