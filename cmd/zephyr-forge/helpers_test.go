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
	"bytes"
	"testing"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

// captureOutput switches ux to machine mode and collects stdout and stderr.
func captureOutput(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	orig := ux.GetPersonality()
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	restore := ux.SetOutput(stdout, stderr)
	t.Cleanup(func() {
		restore()
		ux.SetPersonality(orig)
	})
	return stdout, stderr
}

// statusResult builds a Status result in the given order.
func statusResult(services ...orchestrator.ServiceResult) *orchestrator.OrchestrationResult {
	r := &orchestrator.OrchestrationResult{
		Mode:       orchestrator.UseExisting,
		State:      orchestrator.StateIdle,
		PerService: make(map[string]orchestrator.ServiceResult),
	}
	for _, sr := range services {
		r.Order = append(r.Order, sr.Service)
		r.PerService[sr.Service] = sr
		switch sr.Container {
		case orchestrator.ContainerMissing:
			r.Missing = append(r.Missing, sr.Service)
			r.NeedsInit = true
		case orchestrator.ContainerStopped:
			r.Stopped = append(r.Stopped, sr.Service)
			r.NeedsInit = true
		case orchestrator.ContainerRunning:
			r.Running = append(r.Running, sr.Service)
		}
		if sr.HasInitJob && !sr.InitCompleted {
			r.InitRequired = append(r.InitRequired, sr.Service)
			r.NeedsInit = true
		}
	}
	return r
}
