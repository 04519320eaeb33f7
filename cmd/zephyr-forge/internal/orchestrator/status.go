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
	"context"
	"fmt"
	"time"
)

// Status implements Orchestrator.
//
// # Description
//
// Every service container is classified as missing, stopped or running.
// For services with init jobs, initialization counts as completed only when
// every job container exited with code 0. NeedsInit is set when anything is
// missing, stopped or not initialized.
//
// An inspection error for one service is recorded in Issues and leaves
// that service unclassified; the other services are still inspected.
func (o *DefaultOrchestrator) Status(ctx context.Context) *OrchestrationResult {
	start := time.Now()
	result := newResult(o.newRunID(), UseExisting)

	for _, svc := range o.registry.Ordered() {
		sr := ServiceResult{Service: svc.Name, HasInitJob: svc.HasInitJobs()}

		obs, err := o.rt.Inspect(ctx, svc.ContainerName)
		if err != nil {
			sr.Err = err
			result.Issues = append(result.Issues, fmt.Sprintf("%s: inspect %s: %v", svc.Name, svc.ContainerName, err))
			result.set(sr)
			continue
		}
		sr.Observation = obs

		switch {
		case !obs.Exists:
			sr.Container = ContainerMissing
			result.Missing = append(result.Missing, svc.Name)
			result.NeedsInit = true
		case obs.Running:
			sr.Container = ContainerRunning
			result.Running = append(result.Running, svc.Name)
		default:
			sr.Container = ContainerStopped
			result.Stopped = append(result.Stopped, svc.Name)
			result.NeedsInit = true
		}

		if svc.HasInitJobs() {
			sr.InitCompleted = true
			for _, job := range svc.InitJobs {
				initObs, err := o.rt.Inspect(ctx, job.ContainerName)
				if err != nil {
					sr.Err = err
					sr.InitCompleted = false
					result.Issues = append(result.Issues, fmt.Sprintf("%s: inspect %s: %v", svc.Name, job.ContainerName, err))
					break
				}
				sr.InitObservation = &initObs
				if !initObs.ExitedZero() {
					sr.InitCompleted = false
					break
				}
			}
			if !sr.InitCompleted {
				result.InitRequired = append(result.InitRequired, svc.Name)
				result.NeedsInit = true
			}
		}

		result.set(sr)
	}

	result.Duration = time.Since(start)
	o.logger.Debug("[Orchestrator] status checked",
		"run_id", result.RunID,
		"missing", result.Missing,
		"stopped", result.Stopped,
		"init_required", result.InitRequired,
		"needs_init", result.NeedsInit,
	)
	return result
}
