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
	"sync"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

// maxLogLineWidth bounds forwarded container output.
const maxLogLineWidth = 160

// uxSink renders orchestrator progress through pkg/ux.
type uxSink struct {
	mu sync.Mutex

	// showLogs forwards container and compose output.
	showLogs bool

	// warnings collects every warning for the closing summary.
	warnings []string
}

func newUXSink(showLogs bool) *uxSink {
	return &uxSink{showLogs: showLogs}
}

// StateChanged prints one line per transition.
func (s *uxSink) StateChanged(service string, state orchestrator.State, detail string) {
	msg := stateMessage(service, state, detail)
	switch state {
	case orchestrator.StateReady, orchestrator.StateNetworkReady, orchestrator.StateVerified:
		ux.Success(msg)
	case orchestrator.StateFailed:
		ux.Error(msg)
	case orchestrator.StatePartiallyFailed:
		ux.Warning(msg)
	case orchestrator.StateIdle:
		ux.Muted(msg)
	default:
		ux.Info(msg)
	}
}

// LogLine prints container output when logs are enabled.
func (s *uxSink) LogLine(source, line string) {
	if !s.showLogs {
		return
	}
	ux.Muted(ux.Truncate(fmt.Sprintf("[%s] %s", source, line), maxLogLineWidth))
}

// Warning prints msg and remembers it.
func (s *uxSink) Warning(msg string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, msg)
	s.mu.Unlock()
	ux.Warning(msg)
}

// Warnings returns the warnings seen so far.
func (s *uxSink) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.warnings))
	copy(out, s.warnings)
	return out
}

func stateMessage(service string, state orchestrator.State, detail string) string {
	var msg string
	switch state {
	case orchestrator.StateNetworkReady:
		msg = "Network ready"
	case orchestrator.StateStarting:
		msg = "Starting " + service
	case orchestrator.StateInitRunning:
		msg = "Running init job for " + service
	case orchestrator.StateProbing:
		msg = "Waiting for " + service
	case orchestrator.StateReady:
		msg = service + " is ready"
	case orchestrator.StateFailed:
		if service == "" {
			msg = "Initialization failed"
		} else {
			msg = service + " failed"
		}
	case orchestrator.StateVerified:
		msg = "All services verified"
	case orchestrator.StatePartiallyFailed:
		msg = "Some services are not healthy"
	default:
		msg = string(state)
		if service != "" {
			msg = service + ": " + msg
		}
	}
	if detail != "" {
		msg += " (" + detail + ")"
	}
	return msg
}

var _ orchestrator.Sink = (*uxSink)(nil)
