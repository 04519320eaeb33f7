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

// Sink receives progress for display. Every method must return quickly and
// be safe for concurrent use; log lines arrive from background goroutines.
type Sink interface {
	// StateChanged reports a state transition. service is empty for
	// run-level states (network-ready, verified, partially-failed).
	StateChanged(service string, state State, detail string)

	// LogLine forwards one line of container or compose output.
	LogLine(source, line string)

	// Warning reports a non-fatal problem.
	Warning(msg string)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) StateChanged(string, State, string) {}
func (NopSink) LogLine(string, string)             {}
func (NopSink) Warning(string)                     {}

var _ Sink = NopSink{}
