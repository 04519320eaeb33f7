// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
)

// ServiceInitError reports a service that could not be brought up.
//
// It carries what an operator needs to act without re-running: the service
// and container, the underlying cause (a *probe.ProbeTimeout,
// *process.ProcessError, ...), the aggregated health issues, and recent log
// lines from the container.
type ServiceInitError struct {
	Service   string
	Container string

	// Attempts is the number of whole-operation attempts made.
	Attempts int

	Err        error
	Issues     []string
	RecentLogs []string
}

func (e *ServiceInitError) Error() string {
	var b strings.Builder
	b.WriteString(e.Service)
	if e.Container != "" && e.Container != e.Service {
		fmt.Fprintf(&b, " (%s)", e.Container)
	}
	b.WriteString(" failed to initialize")
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else if len(e.Issues) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Issues, "; "))
	}
	return b.String()
}

func (e *ServiceInitError) Unwrap() error {
	return e.Err
}

// isPermanent reports errors that retrying the whole bring-up cannot fix.
func isPermanent(err error) bool {
	return process.IsPermanent(err) ||
		errors.Is(err, runtime.ErrDaemonUnreachable) ||
		errors.Is(err, compose.ErrComposeFileNotFound) ||
		errors.Is(err, compose.ErrInvalidEnvVar)
}
