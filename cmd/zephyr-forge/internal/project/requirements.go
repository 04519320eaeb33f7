// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
)

// requirementTimeout bounds a single "--version" probe.
const requirementTimeout = 15 * time.Second

// -----------------------------------------------------------------------------
// Error Types
// -----------------------------------------------------------------------------

// CheckErrorType categorizes requirement failures.
type CheckErrorType int

const (
	// CheckErrorNotInstalled indicates the tool was not found on PATH.
	CheckErrorNotInstalled CheckErrorType = iota

	// CheckErrorBroken indicates the tool exists but its version probe failed.
	CheckErrorBroken

	// CheckErrorDaemonUnreachable indicates the Docker engine is not running.
	CheckErrorDaemonUnreachable
)

// String returns the error type for logging.
func (t CheckErrorType) String() string {
	switch t {
	case CheckErrorNotInstalled:
		return "NOT_INSTALLED"
	case CheckErrorBroken:
		return "BROKEN"
	case CheckErrorDaemonUnreachable:
		return "DAEMON_UNREACHABLE"
	default:
		return "UNKNOWN"
	}
}

// CheckError is a failed requirement with a suggested fix.
type CheckError struct {
	Type CheckErrorType

	// Message is a one-line description.
	Message string

	// Detail is technical output, such as stderr.
	Detail string

	// Remediation tells the user how to fix it.
	Remediation string

	Err error
}

func (e *CheckError) Error() string {
	return e.Message
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// FullError includes detail and remediation.
func (e *CheckError) FullError() string {
	var buf bytes.Buffer
	buf.WriteString(e.Message)
	if e.Detail != "" {
		buf.WriteString("\n\nDetails: ")
		buf.WriteString(e.Detail)
	}
	if e.Remediation != "" {
		buf.WriteString("\n\nTo fix:\n")
		buf.WriteString(e.Remediation)
	}
	return buf.String()
}

// -----------------------------------------------------------------------------
// Requirements
// -----------------------------------------------------------------------------

// Requirement is one tool the dev stack needs.
type Requirement struct {
	Name string

	// Commands are tried in order; the first that succeeds satisfies the
	// requirement. Each is argv.
	Commands [][]string

	Remediation string
}

// DefaultRequirements are docker, a compose implementation and pnpm.
func DefaultRequirements() []Requirement {
	return []Requirement{
		{
			Name:        "Docker",
			Commands:    [][]string{{"docker", "--version"}},
			Remediation: "Install Docker: https://docs.docker.com/get-docker/",
		},
		{
			Name: "Docker Compose",
			Commands: [][]string{
				{"docker", "compose", "version"},
				{"docker-compose", "--version"},
			},
			Remediation: "Install the Docker Compose plugin: https://docs.docker.com/compose/install/",
		},
		{
			Name:        "pnpm",
			Commands:    [][]string{{"pnpm", "--version"}},
			Remediation: "Install pnpm: npm install -g pnpm",
		},
	}
}

// RequirementResult is the outcome for one Requirement.
type RequirementResult struct {
	Name      string
	Installed bool

	// Version is the first line the version command printed.
	Version string

	// Command is the argv prefix that worked, without the version flag.
	Command []string

	Err *CheckError
}

// Report is the outcome of Checker.Check.
type Report struct {
	Timestamp time.Time
	Results   []RequirementResult

	// DaemonChecked is false when docker itself is missing.
	DaemonChecked   bool
	DaemonReachable bool
	DaemonErr       *CheckError

	Errors []string
}

// OK reports whether every requirement is met and the daemon answered.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Result returns the result for name.
func (r *Report) Result(name string) (RequirementResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return RequirementResult{}, false
}

// ComposeCommand returns the compose argv prefix that worked, or nil.
func (r *Report) ComposeCommand() []string {
	res, ok := r.Result("Docker Compose")
	if !ok || !res.Installed {
		return nil
	}
	return res.Command
}

// String formats the report for display.
func (r *Report) String() string {
	var buf bytes.Buffer

	buf.WriteString("=== Zephyr Requirements ===\n")
	buf.WriteString(fmt.Sprintf("Generated: %s\n\n", r.Timestamp.Format(time.RFC3339)))

	buf.WriteString("[Tools]\n")
	for _, res := range r.Results {
		if res.Installed {
			buf.WriteString(fmt.Sprintf("  %-15s ✓ %s\n", res.Name+":", res.Version))
		} else {
			buf.WriteString(fmt.Sprintf("  %-15s ✗ not installed\n", res.Name+":"))
		}
	}
	buf.WriteString("\n")

	buf.WriteString("[Docker Engine]\n")
	switch {
	case !r.DaemonChecked:
		buf.WriteString("  Daemon:         - skipped (docker missing)\n")
	case r.DaemonReachable:
		buf.WriteString("  Daemon:         ✓ reachable\n")
	default:
		buf.WriteString("  Daemon:         ✗ unreachable\n")
	}
	buf.WriteString("\n")

	if len(r.Errors) > 0 {
		buf.WriteString("[Errors]\n")
		for _, e := range r.Errors {
			buf.WriteString(fmt.Sprintf("  ✗ %s\n", e))
		}
	} else {
		buf.WriteString("[Status]\n")
		buf.WriteString("  ✓ All checks passed\n")
	}
	return buf.String()
}

// -----------------------------------------------------------------------------
// Checker
// -----------------------------------------------------------------------------

// Checker verifies requirements before any orchestration.
type Checker struct {
	runner       process.Runner
	rt           runtime.Runtime
	logger       *slog.Logger
	requirements []Requirement
}

// NewChecker creates a Checker for DefaultRequirements. rt may be nil to
// skip the daemon check.
func NewChecker(runner process.Runner, rt runtime.Runtime, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		runner:       runner,
		rt:           rt,
		logger:       logger,
		requirements: DefaultRequirements(),
	}
}

// WithRequirements replaces the tool list.
func (c *Checker) WithRequirements(reqs []Requirement) *Checker {
	c.requirements = reqs
	return c
}

// Check runs every requirement, then pings the daemon when docker exists.
// It never fails; problems are listed in the report.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{Timestamp: time.Now()}

	dockerFound := false
	for _, req := range c.requirements {
		res := c.checkRequirement(ctx, req)
		report.Results = append(report.Results, res)
		if res.Installed && req.Name == "Docker" {
			dockerFound = true
		}
		if !res.Installed {
			report.Errors = append(report.Errors, res.Err.Message)
		}
	}

	if c.rt != nil && dockerFound {
		report.DaemonChecked = true
		if err := c.rt.Ping(ctx); err != nil {
			report.DaemonErr = daemonError(err)
			report.Errors = append(report.Errors, report.DaemonErr.Message)
		} else {
			report.DaemonReachable = true
		}
	}

	c.logger.Debug("[Project] requirements checked", "ok", report.OK(), "errors", len(report.Errors))
	return report
}

func (c *Checker) checkRequirement(ctx context.Context, req Requirement) RequirementResult {
	res := RequirementResult{Name: req.Name}

	var lastErr error
	notFound := true
	for _, argv := range req.Commands {
		out, err := c.runner.Run(ctx, argv[0], argv[1:], process.RunOptions{
			Silent:  true,
			Timeout: requirementTimeout,
		})
		if err == nil {
			res.Installed = true
			res.Version = firstLine(out.Stdout)
			res.Command = commandPrefix(argv)
			return res
		}
		lastErr = err
		if !process.IsNotFound(err) {
			notFound = false
		}
	}

	if notFound {
		res.Err = &CheckError{
			Type:        CheckErrorNotInstalled,
			Message:     fmt.Sprintf("%s is not installed", req.Name),
			Remediation: req.Remediation,
			Err:         lastErr,
		}
	} else {
		res.Err = &CheckError{
			Type:        CheckErrorBroken,
			Message:     fmt.Sprintf("%s is installed but not working", req.Name),
			Detail:      process.ExtractStderr(lastErr),
			Remediation: req.Remediation,
			Err:         lastErr,
		}
	}
	return res
}

func daemonError(err error) *CheckError {
	ce := &CheckError{
		Type:    CheckErrorDaemonUnreachable,
		Message: "Docker daemon is not reachable",
		Detail:  process.ExtractStderr(err),
		Err:     err,
	}
	if errors.Is(err, runtime.ErrDaemonUnreachable) {
		ce.Remediation = "Start Docker Desktop, or run: sudo systemctl start docker"
	} else {
		ce.Message = "Docker daemon check failed"
		ce.Remediation = "Run 'docker info' to see what is wrong"
	}
	if ce.Detail == "" {
		ce.Detail = err.Error()
	}
	return ce
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// commandPrefix strips the trailing version argument.
func commandPrefix(argv []string) []string {
	if len(argv) <= 1 {
		return append([]string(nil), argv...)
	}
	return append([]string(nil), argv[:len(argv)-1]...)
}
