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

	"golang.org/x/sync/errgroup"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
)

// Health implements Orchestrator.
//
// # Description
//
// Services are checked in parallel, each exactly once, with no waiting.
// A service is healthy when its readiness check passes and every init job
// it declares exited with code 0. Services whose readiness is
// "none" must at least be running. The report lists services and issues
// in registry order regardless of completion order.
func (o *DefaultOrchestrator) Health(ctx context.Context) *HealthReport {
	services := o.registry.Ordered()
	results := make([]ServiceHealth, len(services))

	var g errgroup.Group
	for i, svc := range services {
		g.Go(func() error {
			results[i] = o.checkService(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	report := &HealthReport{Healthy: true, Services: results}
	for _, sh := range results {
		if !sh.Healthy {
			report.Healthy = false
			report.Issues = append(report.Issues, fmt.Sprintf("%s: %s", sh.Service, sh.Error))
		}
	}

	o.metrics.health(report.Healthy)
	o.logger.Debug("[Orchestrator] health checked", "healthy", report.Healthy, "issues", len(report.Issues))
	return report
}

func (o *DefaultOrchestrator) checkService(ctx context.Context, svc registry.ServiceDescriptor) ServiceHealth {
	sh := ServiceHealth{Service: svc.Name, URL: svc.URL, Check: svc.Readiness.String()}

	if svc.Readiness.Kind == probe.KindNone {
		obs, err := o.rt.Inspect(ctx, svc.ContainerName)
		switch {
		case err != nil:
			sh.Error = fmt.Sprintf("inspect failed: %v", err)
			return sh
		case !obs.Running:
			sh.Error = "container is not running"
			return sh
		}
	} else if err := o.checker.Check(ctx, svc.Readiness); err != nil {
		sh.Error = err.Error()
		o.metrics.probe(svc.Name, "unhealthy")
		return sh
	}

	for _, job := range svc.InitJobs {
		obs, err := o.rt.Inspect(ctx, job.ContainerName)
		switch {
		case err != nil:
			sh.Error = fmt.Sprintf("inspect %s failed: %v", job.ContainerName, err)
			return sh
		case !obs.Exists:
			sh.Error = fmt.Sprintf("init job %s has not run", job.ContainerName)
			return sh
		case !obs.ExitedZero():
			if obs.Running {
				sh.Error = fmt.Sprintf("init job %s is still running", job.ContainerName)
			} else {
				sh.Error = fmt.Sprintf("init job %s exited with code %d", job.ContainerName, obs.ExitCode)
			}
			return sh
		}
	}

	o.metrics.probe(svc.Name, "healthy")
	sh.Healthy = true
	return sh
}
