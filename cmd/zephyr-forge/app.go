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
	"os"
	"path/filepath"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/config"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/network"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/project"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/pkg/logging"
)

// serviceName tags logs written by the CLI.
const serviceName = "zephyr-forge"

// app holds everything a command needs. It is built once per invocation
// and closed when the command returns.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	runner  process.Runner
	rt      runtime.Runtime
	reg     *registry.Registry
	metrics *orchestrator.Metrics

	// root is resolved lazily by projectRoot.
	root string
}

// appOptions carries the persistent flags.
type appOptions struct {
	ConfigPath  string
	ProjectRoot string
	LogLevel    string
	Driver      string
	Verbose     bool
}

func currentAppOptions() appOptions {
	return appOptions{
		ConfigPath:  configPath,
		ProjectRoot: projectRootFlag,
		LogLevel:    logLevelFlag,
		Driver:      driverFlag,
		Verbose:     verbose,
	}
}

// newApp loads configuration, applies flag overrides and connects to the
// container engine.
func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	} else if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if opts.Driver != "" {
		cfg.Runtime.Driver = opts.Driver
	}
	if opts.ProjectRoot != "" {
		cfg.Project.Root = opts.ProjectRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logCfg, levelErr := cfg.LoggingSettings(serviceName)
	logger := logging.New(logCfg)
	if levelErr != nil {
		logger.Warn("[CLI] invalid log level, using info", "error", levelErr)
	}

	timeouts := cfg.Orchestrator.Timeouts.TimeoutConfig()
	runner := process.NewDefaultRunner(process.RunnerConfig{DefaultTimeout: timeouts.Process})

	rt, err := newRuntime(cfg, runner, logger.Slog())
	if err != nil {
		logger.Close()
		return nil, err
	}

	reg, err := registry.New(cfg.Stack)
	if err != nil {
		rt.Close()
		logger.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		runner:  runner,
		rt:      rt,
		reg:     reg,
		metrics: orchestrator.NewMetrics(),
	}, nil
}

// newRuntime selects the engine driver.
func newRuntime(cfg *config.Config, runner process.Runner, logger *slog.Logger) (runtime.Runtime, error) {
	switch cfg.Runtime.Driver {
	case config.DriverAPI:
		rt, err := runtime.NewAPIRuntime(logger)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case config.DriverCLI, "":
		return runtime.NewCLIRuntime(runner, runtime.CLIConfig{
			Binary:  cfg.Stack.DockerBinary,
			Timeout: cfg.Orchestrator.Timeouts.TimeoutConfig().Process,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown runtime driver %q", config.ErrInvalidConfig, cfg.Runtime.Driver)
	}
}

// Close releases the engine connection and flushes metrics and logs.
func (a *app) Close() {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			if err := a.metrics.WriteTextfile(path); err != nil {
				a.logger.Warn("[CLI] failed to write metrics", "path", path, "error", err)
			}
		}
	}
	if err := a.rt.Close(); err != nil {
		a.logger.Debug("[CLI] runtime close", "error", err)
	}
	a.logger.Close()
}

// projectRoot returns the configured root or searches upward from the
// working directory.
func (a *app) projectRoot() (string, error) {
	if a.root != "" {
		return a.root, nil
	}
	if a.cfg.Project.Root != "" {
		abs, err := filepath.Abs(a.cfg.Project.Root)
		if err != nil {
			return "", err
		}
		a.root = abs
		return a.root, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := project.FindRoot(wd)
	if err != nil {
		return "", fmt.Errorf("%w: run this command inside the Zephyr monorepo or pass --project-root", err)
	}
	a.root = root
	return a.root, nil
}

// composeCommand returns the configured compose invocation, or detects
// "docker compose" versus the standalone "docker-compose".
func (a *app) composeCommand(ctx context.Context) []string {
	if len(a.cfg.Runtime.ComposeCommand) > 0 {
		return a.cfg.Runtime.ComposeCommand
	}
	return detectComposeCommand(ctx, a.runner, a.logger.Slog())
}

func detectComposeCommand(ctx context.Context, runner process.Runner, logger *slog.Logger) []string {
	var reqs []project.Requirement
	for _, r := range project.DefaultRequirements() {
		if r.Name == "Docker Compose" {
			reqs = append(reqs, r)
		}
	}
	report := project.NewChecker(runner, nil, logger).WithRequirements(reqs).Check(ctx)
	if cmd := report.ComposeCommand(); len(cmd) > 0 {
		return cmd
	}
	return []string{"docker", "compose"}
}

// orchestrator wires a DefaultOrchestrator for the project.
func (a *app) orchestrator(ctx context.Context, sink orchestrator.Sink) (orchestrator.Orchestrator, error) {
	root, err := a.projectRoot()
	if err != nil {
		return nil, err
	}
	slogger := a.logger.Slog()
	timeouts := a.cfg.Orchestrator.Timeouts.TimeoutConfig()

	exec, err := compose.NewDefaultExecutor(compose.Config{
		ProjectDir:     root,
		File:           a.cfg.Project.ComposeFile,
		Command:        a.composeCommand(ctx),
		DefaultTimeout: timeouts.Compose,
		Logger:         slogger,
	}, a.runner)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Deps{
		Runtime:  a.rt,
		Compose:  exec,
		Network:  network.NewProvisioner(a.rt, slogger),
		Prober:   probe.NewProber(a.rt, slogger),
		Checker:  probe.NewDefaultChecker(a.runner, probe.CheckerConfig{Timeout: timeouts.Check, Logger: slogger}),
		Registry: a.reg,
		Sink:     sink,
		Logger:   slogger,
		Metrics:  a.metrics,
	}, a.cfg.OrchestratorSettings())
}

// withLock runs fn while holding the machine-wide CLI lock.
func withLock(fn func() error) error {
	lock := process.NewProcessLock(process.DefaultProcessLockConfig())
	if err := lock.Acquire(); err != nil {
		var held *process.ErrLockHeld
		if errors.As(err, &held) {
			return fmt.Errorf("another zephyr-forge command is running: %w", err)
		}
		return err
	}
	defer lock.Release()
	return fn()
}

// withApp builds the app for a command and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := newApp(currentAppOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
