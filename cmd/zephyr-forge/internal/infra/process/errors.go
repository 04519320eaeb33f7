// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ProcessError describes an external command that failed to start or exited
// with a non-zero status.
//
// # Description
//
// ProcessError carries the context an operator needs to act on a failure:
// the command line, the exit code, and what the process wrote to stderr.
// NotFound marks a missing executable, which no amount of retrying fixes.
//
// # Examples
//
//	err := &ProcessError{Command: "docker network ls", ExitCode: 1, Stderr: "permission denied"}
//	fmt.Println(err) // docker network ls (exit 1): permission denied
type ProcessError struct {
	// Command is the program and its arguments joined for display.
	Command string

	// ExitCode is the exit status, 127 when the executable was not found and
	// -1 when the process was killed by a timeout.
	ExitCode int

	// Stderr is the trimmed standard error output.
	Stderr string

	// NotFound is true when the executable does not exist on PATH.
	NotFound bool

	// TimedOut is true when the command exceeded its timeout.
	TimedOut bool

	// Err is the underlying error from os/exec.
	Err error
}

// Error formats the failure as "command (exit N): stderr".
func (e *ProcessError) Error() string {
	switch {
	case e.NotFound:
		return fmt.Sprintf("%s: executable not found", e.Command)
	case e.TimedOut:
		return fmt.Sprintf("%s: timed out", e.Command)
	case e.Stderr != "":
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
	}
}

// Unwrap returns the underlying os/exec error.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

var _ error = (*ProcessError)(nil)

// NewProcessError builds a ProcessError, trimming stderr.
func NewProcessError(command string, exitCode int, stderr string, err error) *ProcessError {
	return &ProcessError{
		Command:  command,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Err:      err,
	}
}

// IsPermanent reports whether err is a process failure that will not go away
// on retry: a missing executable or a permission error.
//
// It is the bail predicate handed to the retry package.
func IsPermanent(err error) bool {
	var pe *ProcessError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.NotFound {
		return true
	}
	return errors.Is(pe.Err, fs.ErrPermission)
}

// IsNotFound reports whether err came from a missing executable.
func IsNotFound(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe) && pe.NotFound
}

// ExtractStderr returns the stderr of the first ProcessError in err's chain,
// or "" if there is none.
func ExtractStderr(err error) string {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Stderr
	}
	return ""
}

// formatCommand joins name and args for display only.
func formatCommand(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
