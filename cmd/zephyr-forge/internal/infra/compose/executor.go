// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose drives "docker compose" for the development stack.
package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrComposeFileNotFound is returned when the compose file doesn't exist.
	ErrComposeFileNotFound = errors.New("compose file not found")

	// ErrInvalidConfig is returned when ComposeConfig is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrInvalidEnvVar is returned when an environment variable key is invalid.
	ErrInvalidEnvVar = errors.New("invalid environment variable")
)

// envVarKeyRegex validates environment variable key names passed to compose.
var envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// =============================================================================
// Interface
// =============================================================================

// Executor runs compose commands against the project's compose file.
//
// # Description
//
// Executor is the only place that knows compose command-line syntax. The
// orchestrator starts services one by one through Up with explicit service
// names, and brings the whole topology up or down for start/stop.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Mutating commands are
// serialized.
type Executor interface {
	// Up runs "compose up -d" for the given services (all when empty).
	Up(ctx context.Context, opts UpOptions) (*Result, error)

	// Down runs "compose down", optionally removing volumes.
	Down(ctx context.Context, opts DownOptions) (*Result, error)

	// Logs writes service logs to w. With Follow it blocks until ctx is done.
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error

	// File returns the absolute compose file path.
	File() string
}

// =============================================================================
// Types
// =============================================================================

// Config configures DefaultExecutor.
type Config struct {
	// ProjectDir is the directory holding the compose file. Required.
	ProjectDir string

	// File is the compose file name, relative to ProjectDir.
	// Default: "docker-compose.dev.yml".
	File string

	// Command is the compose invocation. Default: ["docker", "compose"].
	// Use ["docker-compose"] for the standalone v1 binary.
	Command []string

	// DefaultTimeout bounds compose calls without an explicit timeout.
	// Default: util.DefaultComposeTimeout.
	DefaultTimeout time.Duration

	// Logger receives command traces. Default: slog.Default().
	Logger *slog.Logger
}

// UpOptions configures Up.
type UpOptions struct {
	// Services limits the command to these compose services.
	Services []string

	// Profiles activates compose profiles (init jobs live in "init").
	Profiles []string

	// Env is extra environment for variable interpolation.
	Env map[string]string

	// RemoveOrphans removes containers for services not in the file.
	RemoveOrphans bool

	// Timeout overrides the default timeout.
	Timeout time.Duration

	// Sink receives compose output line by line. Nil runs silently.
	Sink process.LineSink
}

// DownOptions configures Down.
type DownOptions struct {
	// Profiles includes profile-only services (init jobs) in the teardown.
	Profiles []string

	// RemoveOrphans removes containers for services not in the file.
	RemoveOrphans bool

	// RemoveVolumes removes named volumes declared in the file.
	RemoveVolumes bool

	// Timeout overrides the default timeout.
	Timeout time.Duration
}

// LogsOptions configures Logs.
type LogsOptions struct {
	Services   []string
	Follow     bool
	Tail       int
	Timestamps bool
}

// Result is the outcome of a compose command.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Command  string
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor over a process.Runner.
type DefaultExecutor struct {
	config Config
	runner process.Runner
	logger *slog.Logger
	mu     sync.Mutex

	// osStatFunc is os.Stat, replaceable in tests.
	osStatFunc func(string) (os.FileInfo, error)
}

// NewDefaultExecutor validates cfg, applies defaults, and checks that the
// compose file exists.
func NewDefaultExecutor(cfg Config, runner process.Runner) (*DefaultExecutor, error) {
	return newDefaultExecutor(cfg, runner, os.Stat)
}

func newDefaultExecutor(cfg Config, runner process.Runner, stat func(string) (os.FileInfo, error)) (*DefaultExecutor, error) {
	if cfg.ProjectDir == "" {
		return nil, fmt.Errorf("%w: project directory is required", ErrInvalidConfig)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidConfig)
	}
	if cfg.File == "" {
		cfg.File = "docker-compose.dev.yml"
	}
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"docker", "compose"}
	}
	cfg.DefaultTimeout = util.EnforceDefaultTimeout(cfg.DefaultTimeout, util.DefaultComposeTimeout)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &DefaultExecutor{config: cfg, runner: runner, logger: cfg.Logger, osStatFunc: stat}
	if _, err := e.osStatFunc(e.File()); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrComposeFileNotFound, e.File())
	}
	return e, nil
}

// Up starts services in the background.
//
//	docker compose -f docker-compose.dev.yml --profile init up -d postgres-dev prisma-migrate
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	if err := validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.baseArgs(opts.Profiles)
	args = append(args, "up", "-d")
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	args = append(args, opts.Services...)

	return e.run(ctx, args, opts.Env, opts.Timeout, opts.Sink)
}

// Down stops and removes the stack's containers and network.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.baseArgs(opts.Profiles)
	args = append(args, "down")
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.RemoveVolumes {
		args = append(args, "-v")
	}

	return e.run(ctx, args, nil, opts.Timeout, nil)
}

// Logs streams compose logs to w.
func (e *DefaultExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := e.baseArgs(nil)
	args = append(args, "logs", "--no-color")
	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	args = append(args, opts.Services...)

	name, full := e.command(args)
	e.logger.Debug("[Compose] streaming logs", "command", name+" "+strings.Join(full, " "))

	var writeErr error
	err := e.runner.Stream(ctx, name, full, func(_ process.Stream, line string) {
		if writeErr == nil {
			_, writeErr = fmt.Fprintln(w, line)
		}
	})
	if err != nil {
		return fmt.Errorf("compose logs: %w", err)
	}
	return writeErr
}

// File returns the compose file path.
func (e *DefaultExecutor) File() string {
	if filepath.IsAbs(e.config.File) {
		return e.config.File
	}
	return filepath.Join(e.config.ProjectDir, e.config.File)
}

// =============================================================================
// Internal Helpers
// =============================================================================

// baseArgs returns "-f <file> [--profile p]..." for every command.
func (e *DefaultExecutor) baseArgs(profiles []string) []string {
	args := []string{"-f", e.File()}
	for _, p := range profiles {
		args = append(args, "--profile", p)
	}
	return args
}

// command splits the configured invocation into executable and arguments.
func (e *DefaultExecutor) command(args []string) (string, []string) {
	full := append(append([]string{}, e.config.Command[1:]...), args...)
	return e.config.Command[0], full
}

func (e *DefaultExecutor) run(ctx context.Context, args []string, env map[string]string, timeout time.Duration, sink process.LineSink) (*Result, error) {
	name, full := e.command(args)
	e.logger.Debug("[Compose] running", "command", name+" "+strings.Join(full, " "))

	res, err := e.runner.Run(ctx, name, full, process.RunOptions{
		Silent:  sink == nil,
		Sink:    sink,
		Timeout: util.EnforceDefaultTimeout(timeout, e.config.DefaultTimeout),
		Dir:     e.config.ProjectDir,
		Env:     envSlice(env),
	})

	result := &Result{Command: name + " " + strings.Join(full, " ")}
	if res != nil {
		result.ExitCode = res.ExitCode
		result.Stdout = res.Stdout
		result.Stderr = res.Stderr
		result.Duration = res.Duration
	}
	result.Success = err == nil

	if err != nil {
		return result, fmt.Errorf("compose command failed: %w", err)
	}
	return result, nil
}

// envSlice renders env as sorted KEY=value entries.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func validateEnvVars(env map[string]string) error {
	for k := range env {
		if !envVarKeyRegex.MatchString(k) {
			return fmt.Errorf("%w: %q", ErrInvalidEnvVar, k)
		}
	}
	return nil
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockExecutor implements Executor for testing.
type MockExecutor struct {
	UpFunc   func(context.Context, UpOptions) (*Result, error)
	DownFunc func(context.Context, DownOptions) (*Result, error)
	LogsFunc func(context.Context, LogsOptions, io.Writer) error
	FilePath string

	UpCalls   []UpOptions
	DownCalls []DownOptions
	mu        sync.Mutex
}

// Up implements Executor.
func (m *MockExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	m.mu.Lock()
	m.UpCalls = append(m.UpCalls, opts)
	m.mu.Unlock()

	if m.UpFunc != nil {
		return m.UpFunc(ctx, opts)
	}
	return &Result{Success: true}, nil
}

// Down implements Executor.
func (m *MockExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	m.mu.Lock()
	m.DownCalls = append(m.DownCalls, opts)
	m.mu.Unlock()

	if m.DownFunc != nil {
		return m.DownFunc(ctx, opts)
	}
	return &Result{Success: true}, nil
}

// Logs implements Executor.
func (m *MockExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, opts, w)
	}
	return nil
}

// File implements Executor.
func (m *MockExecutor) File() string {
	if m.FilePath == "" {
		return "docker-compose.dev.yml"
	}
	return m.FilePath
}

var (
	_ Executor = (*DefaultExecutor)(nil)
	_ Executor = (*MockExecutor)(nil)
)
