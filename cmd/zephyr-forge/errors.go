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
)

// Exit codes.
const (
	exitFailure     = 1
	exitInterrupted = 130
)

// silentError fails the command after its output already explained why.
// main exits non-zero without printing it again.
type silentError struct {
	msg string
}

func (e *silentError) Error() string { return e.msg }

func silent(msg string) error { return &silentError{msg: msg} }

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}
