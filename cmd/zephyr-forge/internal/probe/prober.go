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
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
)

// =============================================================================
// Types
// =============================================================================

// Condition is what WaitUntil waits for.
type Condition int

const (
	// Healthy waits for a running, healthy container.
	Healthy Condition = iota

	// ExitedZero waits for a one-shot container to finish with code 0.
	ExitedZero
)

func (c Condition) String() string {
	if c == ExitedZero {
		return "exited(0)"
	}
	return "healthy"
}

// WaitOptions bounds one wait.
type WaitOptions struct {
	// Timeout is the overall deadline. Default: util.DefaultReadyTimeout.
	Timeout time.Duration

	// PollInterval is the first delay between inspections.
	// Default: util.DefaultPollInterval.
	PollInterval time.Duration

	// MaxPollInterval caps the growing interval. Default: PollInterval.
	MaxPollInterval time.Duration

	// Check is an extra readiness check for Healthy waits on containers
	// without an engine healthcheck. Nil means running is enough.
	Check func(ctx context.Context) error
}

// pollGrowth is the factor applied to the interval after every poll.
const pollGrowth = 1.5

// pollJitter is the +/- fraction applied to every sleep.
const pollJitter = 0.1

// =============================================================================
// Interface
// =============================================================================

// Prober waits for containers to reach a condition.
type Prober interface {
	// WaitUntil polls container until cond holds.
	//
	// # Outputs
	//
	//   - nil: the condition holds
	//   - *ProbeFailed: the container exited and can never satisfy cond
	//   - *ProbeTimeout: the deadline passed first
	//   - ctx.Err(): the caller cancelled
	WaitUntil(ctx context.Context, container string, cond Condition, opts WaitOptions) error
}

// =============================================================================
// Runtime Implementation
// =============================================================================

// RuntimeProber implements Prober by inspecting through a runtime.Runtime.
type RuntimeProber struct {
	rt     runtime.Runtime
	logger *slog.Logger
	now    func() time.Time
}

// NewProber creates a RuntimeProber.
func NewProber(rt runtime.Runtime, logger *slog.Logger) *RuntimeProber {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuntimeProber{rt: rt, logger: logger, now: time.Now}
}

// WaitUntil implements Prober.
//
// # Description
//
// Every poll inspects the container and evaluates cond:
//
//   - Healthy: engine health "healthy"; without a healthcheck, running and
//     opts.Check passing. A container that exited fails immediately.
//   - ExitedZero: exited with code 0; any other exit code fails
//     immediately. A missing container is treated as not yet created.
//
// The interval starts at PollInterval and grows by half each poll, with
// jitter, up to MaxPollInterval. Inspections and checks run under the
// deadline and the last sleep is trimmed to it, so WaitUntil returns within
// Timeout plus scheduling slack. Permanent inspect failures (missing docker
// binary, daemon down) are returned at once.
func (p *RuntimeProber) WaitUntil(ctx context.Context, container string, cond Condition, opts WaitOptions) error {
	opts = opts.withDefaults()

	start := p.now()
	deadline := start.Add(opts.Timeout)
	interval := opts.PollInterval

	pctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastStatus string
	var lastErr error

	for attempt := 1; ; attempt++ {
		obs, err := p.rt.Inspect(pctx, container)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isPermanent(err) {
				return err
			}
			if pctx.Err() == nil {
				lastErr = err
			}
			p.logger.Debug("[Probe] inspect failed", "container", container, "attempt", attempt, "error", err)
		} else {
			lastStatus = describe(obs)
			done, failed, checkErr := p.evaluate(pctx, obs, cond, opts)
			if failed != nil {
				return failed
			}
			if done {
				p.logger.Debug("[Probe] condition met",
					"container", container,
					"condition", cond.String(),
					"elapsed", p.now().Sub(start),
				)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if checkErr != nil && (pctx.Err() == nil || lastErr == nil) {
				lastErr = checkErr
			}
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 || pctx.Err() != nil {
			return &ProbeTimeout{
				Container:  container,
				Condition:  cond,
				Elapsed:    p.now().Sub(start),
				LastStatus: lastStatus,
				LastErr:    lastErr,
			}
		}

		sleep := jitter(interval)
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * pollGrowth)
		if interval > opts.MaxPollInterval {
			interval = opts.MaxPollInterval
		}
	}
}

// isPermanent reports inspect failures that polling cannot fix.
func isPermanent(err error) bool {
	return process.IsPermanent(err) || errors.Is(err, runtime.ErrDaemonUnreachable)
}

// evaluate returns done when cond holds, failed when it can never hold, and
// the readiness check error when the check is what keeps it pending.
func (p *RuntimeProber) evaluate(ctx context.Context, obs runtime.ContainerObservation, cond Condition, opts WaitOptions) (bool, error, error) {
	if !obs.Exists {
		return false, nil, nil
	}

	switch cond {
	case ExitedZero:
		if obs.Running || !obs.Exited() {
			return false, nil, nil
		}
		if obs.ExitCode != 0 {
			return false, &ProbeFailed{Container: obs.Name, ExitCode: obs.ExitCode, Status: obs.Status}, nil
		}
		return true, nil, nil

	default:
		if obs.Exited() {
			return false, &ProbeFailed{Container: obs.Name, ExitCode: obs.ExitCode, Status: obs.Status}, nil
		}
		if !obs.Running {
			return false, nil, nil
		}
		if obs.HasHealthcheck() {
			return obs.Healthy, nil, nil
		}
		if opts.Check == nil {
			return true, nil, nil
		}
		if err := opts.Check(ctx); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}
}

func (o WaitOptions) withDefaults() WaitOptions {
	o.Timeout = util.EnforceDefaultTimeout(o.Timeout, util.DefaultReadyTimeout)
	o.PollInterval = util.EnforceDefaultTimeout(o.PollInterval, util.DefaultPollInterval)
	if o.MaxPollInterval < o.PollInterval {
		o.MaxPollInterval = o.PollInterval
	}
	return o
}

func describe(obs runtime.ContainerObservation) string {
	if !obs.Exists {
		return "missing"
	}
	if obs.HealthStatus != "" {
		return obs.Status + "/" + obs.HealthStatus
	}
	return obs.Status
}

func jitter(d time.Duration) time.Duration {
	f := 1 + pollJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}

// =============================================================================
// Mock Implementation
// =============================================================================

// WaitCall records one MockProber.WaitUntil call.
type WaitCall struct {
	Container string
	Condition Condition
	Options   WaitOptions
}

// MockProber implements Prober for testing.
type MockProber struct {
	WaitUntilFunc func(ctx context.Context, container string, cond Condition, opts WaitOptions) error
	Calls         []WaitCall
	mu            sync.Mutex
}

// WaitUntil implements Prober.
func (m *MockProber) WaitUntil(ctx context.Context, container string, cond Condition, opts WaitOptions) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, WaitCall{Container: container, Condition: cond, Options: opts})
	m.mu.Unlock()
	if m.WaitUntilFunc != nil {
		return m.WaitUntilFunc(ctx, container, cond, opts)
	}
	return nil
}

// GetCalls returns a copy of the recorded calls.
func (m *MockProber) GetCalls() []WaitCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WaitCall(nil), m.Calls...)
}

var (
	_ Prober = (*RuntimeProber)(nil)
	_ Prober = (*MockProber)(nil)
)
