// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"fmt"
	"time"
)

// ProbeTimeout is returned when a container did not reach the wanted
// condition before the deadline.
type ProbeTimeout struct {
	Container string
	Condition Condition
	Elapsed   time.Duration

	// LastStatus is the last observed engine status ("" if never seen).
	LastStatus string

	// LastErr is the last inspection or check error, if any.
	LastErr error
}

func (e *ProbeTimeout) Error() string {
	msg := fmt.Sprintf("%s did not become %s within %s", e.Container, e.Condition, e.Elapsed.Round(time.Millisecond))
	if e.LastStatus != "" {
		msg += fmt.Sprintf(" (last status: %s)", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += fmt.Sprintf(": %v", e.LastErr)
	}
	return msg
}

func (e *ProbeTimeout) Unwrap() error {
	return e.LastErr
}

// ProbeFailed is returned when a container exited in a way that can never
// satisfy the wanted condition.
type ProbeFailed struct {
	Container string
	ExitCode  int
	Status    string
}

func (e *ProbeFailed) Error() string {
	return fmt.Sprintf("%s %s with exit code %d", e.Container, e.Status, e.ExitCode)
}

// CheckError is returned by Checker when a readiness check does not pass.
type CheckError struct {
	Kind   Kind
	Target string
	Err    error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%s check %s: %v", e.Kind, e.Target, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}
