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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/retry"
)

// logFetchTimeout bounds the log read attached to a failure report.
const logFetchTimeout = 10 * time.Second

// run is the state of one Initialize call.
type run struct {
	id       string
	mode     OperationMode
	result   *OrchestrationResult
	streamer *logStreamer
	logger   *slog.Logger
}

// Initialize implements Orchestrator.
//
// # Description
//
// One attempt is:
//
//  1. Teardown by mode. Fresh: compose down, remove containers and data
//     volumes. Reinitialize: remove containers. UseExisting, Manual: none.
//  2. Ensure the shared network.
//  3. For each service in registry order: replace a stale container
//     (except UseExisting), start it, run its init job to exit 0, then wait
//     for readiness.
//
// A failed attempt is retried as a whole, up to Config.MaxAttempts, unless
// the cause is permanent (a missing docker binary, an unreachable daemon).
// After a successful attempt Health decides between Verified and
// PartiallyFailed.
//
// # Outputs
//
//   - *OrchestrationResult: always non-nil, with per-service phases
//   - error: *ServiceInitError naming the failing service, or ctx.Err()
func (o *DefaultOrchestrator) Initialize(ctx context.Context, mode OperationMode) (*OrchestrationResult, error) {
	start := time.Now()
	id := o.newRunID()
	r := &run{
		id:     id,
		mode:   mode,
		result: newResult(id, mode),
		logger: o.logger.With("run_id", id, "mode", mode.String()),
	}
	r.streamer = newLogStreamer(ctx, o.rt, o.sink, o.config.LogBufferSize, o.config.StreamLogs, r.logger)
	defer r.streamer.stop()
	defer func() {
		r.result.Duration = time.Since(start)
		o.metrics.run(r.result.Duration)
	}()

	r.logger.Info("[Orchestrator] initialization started", "services", len(o.registry.Ordered()))
	o.sink.StateChanged("", StateIdle, mode.String())

	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		r.result.Attempts++
		err := o.attempt(ctx, r)
		if err != nil {
			o.metrics.attempt(mode, "failed")
			return struct{}{}, err
		}
		o.metrics.attempt(mode, "succeeded")
		return struct{}{}, nil
	}, retry.Policy{
		Retries:     o.config.MaxAttempts - 1,
		MinDelay:    o.config.RetryMinDelay,
		MaxDelay:    o.config.RetryMaxDelay,
		IsPermanent: isPermanent,
		OnRetry: func(err error, attempt int) {
			r.logger.Warn("[Orchestrator] attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", o.config.MaxAttempts,
				"error", err,
			)
			o.sink.Warning(fmt.Sprintf("Attempt %d/%d failed: %v. Retrying...", attempt, o.config.MaxAttempts, err))
		},
	})
	if err != nil {
		r.result.State = StateFailed
		o.sink.StateChanged("", StateFailed, err.Error())
		return r.result, o.failure(ctx, r, err)
	}

	report := o.Health(ctx)
	r.result.OverallHealthy = report.Healthy
	r.result.Issues = report.Issues
	if !report.Healthy {
		r.result.State = StatePartiallyFailed
		o.sink.StateChanged("", StatePartiallyFailed, fmt.Sprintf("%d issue(s)", len(report.Issues)))
		failing, _ := report.FirstFailing()
		sie := &ServiceInitError{Service: failing.Service, Attempts: r.result.Attempts, Issues: report.Issues}
		if svc, ok := o.registry.Lookup(failing.Service); ok {
			sie.Container = svc.ContainerName
			sie.RecentLogs = o.recentLogs(ctx, r, svc.ContainerName)
		}
		r.logger.Error("[Orchestrator] final health check failed", "issues", report.Issues)
		return r.result, sie
	}

	r.result.State = StateVerified
	o.sink.StateChanged("", StateVerified, "")
	r.logger.Info("[Orchestrator] initialization complete", "attempts", r.result.Attempts)
	return r.result, nil
}

// attempt runs teardown, network and per-service bring-up once.
func (o *DefaultOrchestrator) attempt(ctx context.Context, r *run) error {
	if err := o.teardown(ctx, r); err != nil {
		return err
	}

	if err := o.network.EnsureNetwork(ctx, o.registry.Network(), o.registry.Labels()); err != nil {
		return &ServiceInitError{Service: "network", Container: o.registry.Network(), Err: err}
	}
	r.result.State = StateNetworkReady
	o.sink.StateChanged("", StateNetworkReady, o.registry.Network())

	for _, svc := range o.registry.Ordered() {
		sr, err := o.bringUp(ctx, r, svc)
		r.result.set(sr)
		if err != nil {
			return err
		}
	}
	return nil
}

// teardown removes what mode says must not survive.
func (o *DefaultOrchestrator) teardown(ctx context.Context, r *run) error {
	switch r.mode {
	case Fresh:
		r.logger.Info("[Orchestrator] removing containers and volumes")
		if _, err := o.compose.Down(ctx, compose.DownOptions{
			Profiles:      []string{o.config.InitProfile},
			RemoveOrphans: true,
			RemoveVolumes: true,
			Timeout:       o.config.Timeouts.Compose,
		}); err != nil {
			return &ServiceInitError{Service: "teardown", Err: err}
		}
		if err := o.removeContainers(ctx, r, o.registry.Containers()); err != nil {
			return &ServiceInitError{Service: "teardown", Err: err}
		}
		for _, v := range o.registry.Volumes() {
			if err := o.rt.RemoveVolume(ctx, v); err != nil {
				return &ServiceInitError{Service: "teardown", Container: v, Err: err}
			}
		}
	case Reinitialize:
		r.logger.Info("[Orchestrator] removing containers, keeping volumes")
		if err := o.removeContainers(ctx, r, o.registry.Containers()); err != nil {
			return &ServiceInitError{Service: "teardown", Err: err}
		}
	}
	return nil
}

func (o *DefaultOrchestrator) removeContainers(ctx context.Context, r *run, containers []string) error {
	for _, c := range containers {
		r.streamer.forget(c)
		if err := o.rt.RemoveContainer(ctx, c); err != nil {
			return fmt.Errorf("remove container %s: %w", c, err)
		}
	}
	return nil
}

// bringUp starts one service and waits until it is ready.
func (o *DefaultOrchestrator) bringUp(ctx context.Context, r *run, svc registry.ServiceDescriptor) (ServiceResult, error) {
	started := time.Now()
	sr := ServiceResult{Service: svc.Name, HasInitJob: svc.HasInitJobs(), Phase: StateStarting}
	logger := r.logger.With("service", svc.Name)

	fail := func(container string, err error) (ServiceResult, error) {
		sr.Phase = StateFailed
		sr.Err = err
		o.sink.StateChanged(svc.Name, StateFailed, err.Error())
		logger.Warn("[Orchestrator] service failed", "container", container, "error", err)
		return sr, &ServiceInitError{Service: svc.Name, Container: container, Err: err}
	}

	o.sink.StateChanged(svc.Name, StateStarting, svc.ContainerName)

	if r.mode != UseExisting {
		if err := o.removeContainers(ctx, r, svc.Containers()); err != nil {
			return fail(svc.ContainerName, err)
		}
	}

	if _, err := o.compose.Up(ctx, compose.UpOptions{
		Services: []string{svc.ComposeService},
		Timeout:  o.config.Timeouts.Compose,
		Sink:     o.composeSink(),
	}); err != nil {
		return fail(svc.ContainerName, err)
	}
	r.streamer.follow(svc.ContainerName)

	if svc.HasInitJobs() {
		sr.Phase = StateInitRunning
		sr.InitCompleted = true
	}
	for _, job := range svc.InitJobs {
		o.sink.StateChanged(svc.Name, StateInitRunning, job.ContainerName)

		if _, err := o.compose.Up(ctx, compose.UpOptions{
			Services: []string{job.ComposeService},
			Profiles: []string{o.config.InitProfile},
			Timeout:  o.config.Timeouts.Compose,
			Sink:     o.composeSink(),
		}); err != nil {
			return fail(job.ContainerName, err)
		}
		r.streamer.follow(job.ContainerName)

		err := o.prober.WaitUntil(ctx, job.ContainerName, probe.ExitedZero, probe.WaitOptions{
			Timeout:         o.config.Timeouts.InitJob,
			PollInterval:    o.config.Timeouts.Poll,
			MaxPollInterval: o.config.Timeouts.MaxPoll,
		})
		var timeout *probe.ProbeTimeout
		switch {
		case err == nil:
		case errors.As(err, &timeout) && !o.config.StrictInitJobs:
			sr.InitCompleted = false
			logger.Warn("[Orchestrator] init job still running at deadline, continuing",
				"container", job.ContainerName,
				"elapsed", timeout.Elapsed,
			)
			o.sink.Warning(fmt.Sprintf("%s is taking longer than %s; continuing, the final health check decides",
				job.ContainerName, o.config.Timeouts.InitJob))
		default:
			o.metrics.probe(svc.Name, "init_failed")
			return fail(job.ContainerName, err)
		}
	}

	sr.Phase = StateProbing
	o.sink.StateChanged(svc.Name, StateProbing, svc.Readiness.String())

	err := o.prober.WaitUntil(ctx, svc.ContainerName, probe.Healthy, probe.WaitOptions{
		Timeout:         o.config.Timeouts.Ready,
		PollInterval:    o.config.Timeouts.Poll,
		MaxPollInterval: o.config.Timeouts.MaxPoll,
		Check: func(ctx context.Context) error {
			return o.checker.Check(ctx, svc.Readiness)
		},
	})
	if err != nil {
		o.metrics.probe(svc.Name, outcomeOf(err))
		return fail(svc.ContainerName, err)
	}

	sr.Phase = StateReady
	elapsed := time.Since(started)
	o.metrics.probe(svc.Name, "ready")
	o.metrics.serviceReady(svc.Name, elapsed)
	o.sink.StateChanged(svc.Name, StateReady, svc.URL)
	logger.Info("[Orchestrator] service ready", "elapsed", elapsed)
	return sr, nil
}

// failure turns the retry outcome into the error Initialize returns.
func (o *DefaultOrchestrator) failure(ctx context.Context, r *run, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.As(err, new(*ServiceInitError)) {
		return ctxErr
	}

	attempts := r.result.Attempts
	var exhausted *retry.RetryExhausted
	if errors.As(err, &exhausted) {
		err = exhausted.Last
		attempts = exhausted.Attempts
	}

	var sie *ServiceInitError
	if !errors.As(err, &sie) {
		sie = &ServiceInitError{Service: "initialize", Err: err}
	}
	out := *sie
	out.Attempts = attempts
	if out.Container != "" {
		out.RecentLogs = o.recentLogs(ctx, r, out.Container)
	}
	if sr, ok := r.result.PerService[out.Service]; ok && sr.Err != nil {
		r.result.Issues = append(r.result.Issues, fmt.Sprintf("%s: %v", out.Service, sr.Err))
	} else if out.Err != nil {
		r.result.Issues = append(r.result.Issues, out.Error())
	}
	out.Issues = r.result.Issues

	r.logger.Error("[Orchestrator] initialization failed",
		"service", out.Service,
		"container", out.Container,
		"attempts", out.Attempts,
		"error", out.Err,
	)
	return &out
}

// recentLogs reads the container's log tail, falling back to what the
// streamer buffered when the runtime cannot deliver.
func (o *DefaultOrchestrator) recentLogs(ctx context.Context, r *run, container string) []string {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logFetchTimeout)
	defer cancel()

	lines, err := o.rt.Logs(lctx, container, o.config.LogTail)
	if err == nil && len(lines) > 0 {
		return lines
	}
	return r.streamer.recent(container, o.config.LogTail)
}

func outcomeOf(err error) string {
	var timeout *probe.ProbeTimeout
	var failed *probe.ProbeFailed
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &failed):
		return "exited"
	default:
		return "error"
	}
}
